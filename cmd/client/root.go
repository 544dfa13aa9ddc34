package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/radiomirchi/radio-mirchi/internal/client"
)

var (
	serverURL  string
	sinkKind   string
	wavOut     string
	sampleRate int
	voiceRate  int
)

var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "Radio Mirchi test client",
	Long: `Test client for the Radio Mirchi backend.

Without a subcommand it starts the interactive menu: create a mission,
reconnect to the last one, or join an existing mission by ID. Once a
mission reaches stage2 the client joins the broadcast, plays the hosts
through the selected audio sink and sends every typed line to the hosts.

Environment variables (also read from .env):
  RADIO_MIRCHI_SERVER   - API base URL (default: http://localhost:8000)`,
	SilenceUsage: true,
	RunE:         runMenu,
}

func init() {
	defaultServer := "http://localhost:8000"
	if v := os.Getenv("RADIO_MIRCHI_SERVER"); v != "" {
		defaultServer = v
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "API base URL")
	rootCmd.PersistentFlags().StringVar(&sinkKind, "sink", client.SinkDevice, "Audio output: device, wav or none")
	rootCmd.PersistentFlags().StringVar(&wavOut, "wav-out", "broadcast.wav", "Output file for --sink wav")
	rootCmd.PersistentFlags().IntVar(&sampleRate, "sample-rate", 24000, "Host audio sample rate in Hz")
	rootCmd.PersistentFlags().IntVar(&voiceRate, "voice-rate", 16000, "Sample rate expected for /voice files")
}

// Execute runs the root command
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// app carries what every command needs
type app struct {
	api   *client.APIClient
	ui    *client.UI
	input *client.LineReader
}

func newApp(cmd *cobra.Command) (*app, error) {
	api, err := client.NewAPIClient(serverURL)
	if err != nil {
		return nil, err
	}
	return &app{
		api:   api,
		ui:    client.NewUI(cmd.OutOrStdout()),
		input: client.NewLineReader(cmd.InOrStdin()),
	}, nil
}

// prompt prints label and reads one line
func (a *app) prompt(ctx context.Context, label string) (string, error) {
	a.ui.Prompt(label)
	return a.input.ReadLine(ctx)
}

// connect waits for the mission to become ready and joins the broadcast
func (a *app) connect(ctx context.Context, missionID string) error {
	a.ui.Info("Polling status for mission: %s", missionID)
	err := a.api.PollUntilReady(ctx, missionID, func(s *client.MissionStatus) {
		a.ui.Plain("Current status: %s", s.Status)
	})
	if err != nil {
		return err
	}
	a.ui.Success("Stage 2 reached! Connecting to WebSocket...")

	sink, err := client.OpenSink(sinkKind, sampleRate, wavOut)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	player := client.NewPlayer(sink, client.DefaultPlayerQueue, func(err error) {
		a.ui.Error("Could not play audio chunk: %v", err)
	})

	sessionErr := client.RunSession(ctx, client.SessionConfig{
		URL:             a.api.WebSocketURL(missionID),
		VoiceSampleRate: voiceRate,
	}, a.input, a.ui, player)

	if err := player.Close(); err != nil {
		a.ui.Error("Could not play final audio buffer: %v", err)
	}
	stats := player.GetStats()
	if sinkKind == client.SinkWAV {
		a.ui.Info("Wrote %d bytes of audio to %s", stats.BytesPlayed, wavOut)
	}
	a.ui.Info("Client shutdown complete.")
	return sessionErr
}

func writeLine(w io.Writer, s string) {
	fmt.Fprintln(w, s)
}
