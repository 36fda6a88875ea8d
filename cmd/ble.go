package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/ble"
	"github.com/ColonelBlimp/qrsdetect/internal/qrs"
	"github.com/ColonelBlimp/qrsdetect/internal/rhythm"
	"github.com/ColonelBlimp/qrsdetect/internal/session"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

const (
	scanTimeout  = 30 * time.Second
	frameBacklog = 64
)

var bleCmd = &cobra.Command{
	Use:   "ble",
	Short: "Detect beats from a Polar chest strap ECG stream",
	Long: `Scans for a Polar strap whose name starts with ble_name, starts its 130 Hz
ECG stream and runs the detector on it. The integration window is rescaled
to keep its length in time.`,
	RunE: runBLE,
}

func init() {
	bleCmd.Flags().String("name", "", "device name prefix (empty uses ble_name)")
	bleCmd.Flags().StringP("source", "s", "", "source name for published beats (defaults to the device name)")
	bleCmd.Flags().Bool("publish", false, "publish beats to NATS")
}

// strapDetector turns PMD frames into beats with running rhythm stats.
type strapDetector struct {
	stream  *ble.Stream
	tracker *rhythm.Tracker
}

func newStrapDetector(base qrs.Config, rc rhythm.Config) (*strapDetector, error) {
	stream, err := ble.NewStream(ble.DetectorConfig(base))
	if err != nil {
		return nil, err
	}
	rc.SamplingRate = ble.ECGSampleRate
	tracker, err := rhythm.NewTracker(rc)
	if err != nil {
		return nil, err
	}
	return &strapDetector{stream: stream, tracker: tracker}, nil
}

func (d *strapDetector) handle(frame []byte) ([]session.Result, error) {
	beats, err := d.stream.Handle(frame)
	if err != nil {
		return nil, err
	}
	results := make([]session.Result, 0, len(beats))
	for _, b := range beats {
		results = append(results, session.Result{Beat: b, Stats: d.tracker.Add(b)})
	}
	return results, nil
}

func runBLE(cmd *cobra.Command, _ []string) error {
	settings, log, err := setup("ble")
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = settings.BLEName
	}
	source, _ := cmd.Flags().GetString("source")
	publish, _ := cmd.Flags().GetBool("publish")

	det, err := newStrapDetector(settings.Detector(), settings.Rhythm())
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	var pub transport.Publisher
	if publish {
		nc, err := transport.Connect(settings.NATSURL, "qrsdetect-ble", log)
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
		}
		defer nc.Close()
		pub = nc
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("name", name).Info("scanning")
	scanCtx, cancelScan := context.WithTimeout(ctx, scanTimeout)
	sensor, err := ble.Connect(scanCtx, name, log)
	cancelScan()
	if err != nil {
		return err
	}
	defer func() {
		if err := sensor.Close(); err != nil {
			log.WithError(err).Warn("close sensor")
		}
	}()

	if source == "" {
		source = transport.SanitizeSource(sensor.Name)
	}
	if err := transport.ValidSource(source); err != nil {
		return err
	}
	sink := newBeatSink(log, pub, settings.BeatSubject, source, ble.ECGSampleRate)
	sessionID := uuid.NewString()

	// Notifications arrive on the BLE stack's goroutine; copy and hand off.
	frames := make(chan []byte, frameBacklog)
	var dropped atomic.Int64
	if err := sensor.StartECG(func(b []byte) {
		select {
		case frames <- append([]byte(nil), b...):
		default:
			dropped.Add(1)
		}
	}); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"source": source, "session": sessionID}).Info("streaming")
	for {
		select {
		case <-ctx.Done():
			stats := det.stream.Stats()
			log.WithFields(logrus.Fields{
				"frames":  stats.Frames,
				"samples": stats.Samples,
				"errors":  stats.Errors,
				"dropped": dropped.Load(),
			}).Info("stopped")
			return nil

		case frame := <-frames:
			results, err := det.handle(frame)
			if err != nil {
				log.WithError(err).Debug("frame skipped")
				continue
			}
			if err := sink.emit(sessionID, results); err != nil {
				log.WithError(err).Warn("beat not published")
			}
		}
	}
}
