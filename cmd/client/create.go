package main

import (
	"github.com/spf13/cobra"
)

var (
	createTopic   string
	createUser    string
	createConnect bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a mission",
	Long: `Create a mission for a topic. Generation runs in the background on the
server; use --connect to wait for it and join the broadcast right away.

Examples:
  client create --topic "The moon landing was staged" --user alice
  client create --topic "Birds are drones" --connect --sink wav --wav-out out/show.wav`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createTopic, "topic", "", "Mission topic")
	createCmd.Flags().StringVar(&createUser, "user", "", "User ID that owns the mission")
	createCmd.Flags().BoolVar(&createConnect, "connect", false, "Wait for stage2 and join the broadcast")
	_ = createCmd.MarkFlagRequired("topic")
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	m, err := a.api.CreateMission(cmd.Context(), createTopic, createUser)
	if err != nil {
		return err
	}
	a.ui.Success("Mission created: %s", m.ID)
	a.ui.Plain("Status: %s", m.Status)

	if !createConnect {
		return nil
	}
	return a.connect(cmd.Context(), m.ID)
}
