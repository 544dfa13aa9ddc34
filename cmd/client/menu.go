package main

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Interactive menu (default)",
	Args:  cobra.NoArgs,
	RunE:  runMenu,
}

func init() {
	rootCmd.AddCommand(menuCmd)
}

func runMenu(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	return a.menu(cmd.Context())
}

// menu runs until the user picks Exit, input ends or ctx is cancelled.
// Connection failures are printed and the menu is shown again.
func (a *app) menu(ctx context.Context) error {
	var lastMission string

	for {
		a.ui.Header("--- Test Menu ---")
		a.ui.Plain("1. Create a new mission")
		a.ui.Plain("2. Connect to the last created mission")
		a.ui.Plain("3. Connect to an existing mission by ID")
		a.ui.Plain("4. Exit")

		choice, err := a.prompt(ctx, "Enter your choice: ")
		if err != nil {
			return endOfInput(err)
		}

		var missionID string
		switch strings.TrimSpace(choice) {
		case "1":
			id, err := a.createFromPrompt(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return endOfInput(err)
				}
				a.ui.Error("%v", err)
				continue
			}
			lastMission = id
			missionID = id
		case "2":
			if lastMission == "" {
				a.ui.Plain("No mission created yet.")
				continue
			}
			missionID = lastMission
		case "3":
			id, err := a.prompt(ctx, "Enter the existing mission ID: ")
			if err != nil {
				return endOfInput(err)
			}
			missionID = strings.TrimSpace(id)
		case "4":
			return nil
		default:
			a.ui.Plain("Invalid choice.")
			continue
		}

		if missionID == "" {
			continue
		}
		if err := a.connect(ctx, missionID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.ui.Error("%v", err)
		}
	}
}

func (a *app) createFromPrompt(ctx context.Context) (string, error) {
	topic, err := a.prompt(ctx, "Enter the mission topic: ")
	if err != nil {
		return "", err
	}
	userID, err := a.prompt(ctx, "Enter your user ID: ")
	if err != nil {
		return "", err
	}

	a.ui.Info("Creating mission...")
	m, err := a.api.CreateMission(ctx, topic, userID)
	if err != nil {
		return "", err
	}
	a.ui.Success("Mission created successfully! ID: %s", m.ID)
	return m.ID, nil
}

// endOfInput turns the end of stdin or an interrupt into a clean exit
func endOfInput(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
