package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

var statusCmd = &cobra.Command{
	Use:   "status [mission-id]",
	Short: "Show a mission and its generated content",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	m, err := a.api.GetMission(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	a.ui.Header("Mission " + m.ID)
	a.ui.Plain("Topic: %s", m.Topic)
	a.ui.Plain("Status: %s", m.Status)
	if m.Status == mission.StatusFailed {
		a.ui.Error("%s", m.Error)
		return nil
	}

	g := m.GenerationResult
	if g == nil {
		a.ui.Info("Generation in progress.")
		return nil
	}

	a.ui.Plain("Summary: %s", g.Summary)
	for i, p := range g.ProofSentences {
		a.ui.Plain("  %d. %s", i+1, p)
	}
	hosts := make([]string, 0, len(g.Speakers))
	for _, s := range g.Speakers {
		hosts = append(hosts, fmt.Sprintf("%s (%s)", s.Name, s.Gender))
	}
	a.ui.Plain("Hosts: %s", strings.Join(hosts, ", "))
	a.ui.Plain("Awakened listeners: %d of %d", m.AwakenedListeners, g.InitialListeners)
	return nil
}
