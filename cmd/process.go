package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/session"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Detect beats in wave batches received over NATS",
	Long: `Subscribes to <wave_subject>.<source>, runs one detector session per source
and publishes every accepted beat as JSON on <beat_subject>.<source>.`,
	RunE: runProcess,
}

func runProcess(cmd *cobra.Command, _ []string) error {
	settings, log, err := setup("process")
	if err != nil {
		return err
	}

	registry, err := session.NewRegistry(settings.Detector(), settings.Rhythm())
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}

	nc, err := transport.Connect(settings.NATSURL, "qrsdetect-process", log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
	}
	defer nc.Close()

	processor, err := transport.NewProcessor(transport.ProcessorConfig{
		WaveSubject:    settings.WaveSubject,
		BeatSubject:    settings.BeatSubject,
		SamplingRate:   settings.SamplingRate,
		SessionTimeout: settings.SessionTimeout,
	}, registry, nc, log)
	if err != nil {
		return err
	}

	sub, err := processor.Subscribe(nc)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"subject": sub.Subject,
		"rate":    settings.SamplingRate,
		"window":  settings.WindowSize,
		"mode":    settings.Mode,
	}).Info("processing")

	processor.Run(ctx)

	if err := sub.Drain(); err != nil {
		log.WithError(err).Warn("drain subscription")
	}
	stats := processor.Stats()
	log.WithFields(logrus.Fields{
		"messages": stats.Messages,
		"samples":  stats.Samples,
		"beats":    stats.Beats,
		"dropped":  stats.Dropped,
		"sessions": registry.Count(),
	}).Info("stopped")
	return nil
}
