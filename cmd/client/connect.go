package main

import (
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect [mission-id]",
	Short: "Join the live broadcast of a mission",
	Long: `Poll the mission until it reaches stage2, then join the broadcast.

While connected, every typed line is sent to the hosts. "/voice file.wav"
streams a 16-bit mono WAV recording as spoken input and "exit" leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	return a.connect(cmd.Context(), args[0])
}
