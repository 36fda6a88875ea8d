package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/monitor"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show live heart rate per source in the terminal",
	Long: `Subscribes to every source under beat_subject and shows the latest BPM,
rhythm statistics and a BPM trend per source.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Duration("stale", 5*time.Second, "dim sources silent for longer than this")
	monitorCmd.Flags().String("log-file", "", "write logs to this file while the monitor runs")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	settings, log, err := setup("monitor")
	if err != nil {
		return err
	}
	stale, _ := cmd.Flags().GetDuration("stale")
	logFile, _ := cmd.Flags().GetString("log-file")

	// The terminal belongs to the UI; logs go to a file or nowhere.
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(io.Discard)
	}
	defer logrus.SetOutput(os.Stderr)

	nc, err := transport.Connect(settings.NATSURL, "qrsdetect-monitor", log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
	}
	defer nc.Close()

	p := tea.NewProgram(
		monitor.New(settings.BeatSubject, settings.HistorySize, stale),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)
	sub, err := monitor.Feed(nc, settings.BeatSubject, p.Send)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	log.WithField("subject", sub.Subject).Info("monitoring")
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
