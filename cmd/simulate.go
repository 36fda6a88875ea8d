package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/ecgsim"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish a synthetic ECG to NATS",
	Long: `Generates a synthetic single-lead ECG at the detector sampling rate and
publishes it in real time on <wave_subject>.<source>, sim_batch samples per message.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringP("source", "s", "sim", "source name used in the wave subject")
	simulateCmd.Flags().Float64("heart-rate", 0, "heart rate in bpm (0 uses sim_heart_rate)")
	simulateCmd.Flags().Int("count", 0, "stop after this many messages (0 runs until interrupted)")
}

// batchEncoder fills batches from a generator and encodes them for the wire.
type batchEncoder struct {
	gen *ecgsim.Generator
	buf []float64
	out []float32
}

func newBatchEncoder(gen *ecgsim.Generator, size int) *batchEncoder {
	return &batchEncoder{
		gen: gen,
		buf: make([]float64, size),
		out: make([]float32, size),
	}
}

func (e *batchEncoder) next() []byte {
	e.gen.Fill(e.buf)
	for i, v := range e.buf {
		e.out[i] = float32(v)
	}
	return transport.EncodeSamples(e.out)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	source, _ := cmd.Flags().GetString("source")
	heartRate, _ := cmd.Flags().GetFloat64("heart-rate")
	count, _ := cmd.Flags().GetInt("count")

	if err := transport.ValidSource(source); err != nil {
		return err
	}

	settings, log, err := setup("simulate")
	if err != nil {
		return err
	}
	if heartRate == 0 {
		heartRate = settings.SimHeartRate
	}

	gen, err := ecgsim.New(settings.SamplingRate, heartRate, settings.SimNoise)
	if err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	enc := newBatchEncoder(gen, settings.SimBatch)

	nc, err := transport.Connect(settings.NATSURL, "qrsdetect-simulate", log)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subject := transport.Subject(settings.WaveSubject, source)
	period := time.Duration(float64(settings.SimBatch) / settings.SamplingRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.WithFields(logrus.Fields{
		"subject":    subject,
		"heart_rate": heartRate,
		"rate":       settings.SamplingRate,
		"batch":      settings.SimBatch,
	}).Info("simulating")

	sent := 0
	for count == 0 || sent < count {
		select {
		case <-ctx.Done():
			log.WithField("messages", sent).Info("stopped")
			return nil
		case <-ticker.C:
			if err := nc.Publish(subject, enc.next()); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			sent++
		}
	}

	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	log.WithField("messages", sent).Info("done")
	return nil
}
