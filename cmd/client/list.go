package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

const topicWidth = 40

var (
	listUser  string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listUser, "user", "", "Only missions of this user ID")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of missions")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	missions, err := a.api.ListMissions(cmd.Context(), listUser, listLimit)
	if err != nil {
		return err
	}
	if len(missions) == 0 {
		a.ui.Info("No missions found.")
		return nil
	}

	writeLine(cmd.OutOrStdout(), missionTable(missions))
	return nil
}

func missionTable(missions []*mission.Mission) string {
	rows := make([][]string, 0, len(missions))
	for _, m := range missions {
		rows = append(rows, []string{
			m.ID,
			string(m.Status),
			truncate(m.Topic, topicWidth),
			listeners(m),
			m.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Topic", "Awakened", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

// listeners renders awakened/initial, or just awakened before stage1 finishes
func listeners(m *mission.Mission) string {
	if m.GenerationResult == nil || m.GenerationResult.InitialListeners == 0 {
		return strconv.Itoa(m.AwakenedListeners)
	}
	return fmt.Sprintf("%d/%d", m.AwakenedListeners, m.GenerationResult.InitialListeners)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
