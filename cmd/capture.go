package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/qrsdetect/internal/audio"
	"github.com/ColonelBlimp/qrsdetect/internal/session"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Detect beats from an ECG front end on the sound-card input",
	Long: `Captures the first channel of an audio input at capture_rate, resamples it to
sampling_rate and runs the detector locally. The raw capture can be recorded to
WAV (record_path) and is checked for mains hum at mains_frequency.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().IntP("device", "d", -1, "audio device index (-1 for default)")
	captureCmd.Flags().String("record", "", "record raw capture to this WAV file")
	captureCmd.Flags().StringP("source", "s", "linein", "source name for published waves and beats")
	captureCmd.Flags().Bool("publish", false, "publish resampled waves and beats to NATS")
	captureCmd.Flags().Bool("list", false, "list capture devices and exit")
}

func runCapture(cmd *cobra.Command, _ []string) error {
	settings, log, err := setup("capture")
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("device") {
		settings.DeviceIndex, _ = flags.GetInt("device")
	}
	if flags.Changed("record") {
		settings.RecordPath, _ = flags.GetString("record")
	}
	source, _ := flags.GetString("source")
	publish, _ := flags.GetBool("publish")
	list, _ := flags.GetBool("list")

	if err := transport.ValidSource(source); err != nil {
		return err
	}

	capture := audio.New(audio.Config{
		DeviceIndex: settings.DeviceIndex,
		SampleRate:  uint32(settings.CaptureRate),
		Channels:    1,
		BufferSize:  audio.DefaultConfig().BufferSize,
	})
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	defer capture.Close()

	if list {
		return listDevices(cmd, capture)
	}

	var rec *audio.Recorder
	if settings.RecordPath != "" {
		rec, err = audio.CreateRecorder(settings.RecordPath, int(settings.CaptureRate))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rec.Close(); cerr != nil {
				log.WithError(cerr).Error("close recording")
			}
			log.WithFields(logrus.Fields{"path": settings.RecordPath, "frames": rec.Frames()}).Info("recording saved")
		}()
	}

	lineIn, err := audio.NewLineIn(audio.LineInConfig{
		CaptureRate:    settings.CaptureRate,
		DetectorRate:   settings.SamplingRate,
		MainsFrequency: settings.MainsFrequency,
		HumThreshold:   settings.HumThreshold,
	}, rec)
	if err != nil {
		return fmt.Errorf("line-in: %w", err)
	}

	registry, err := session.NewRegistry(settings.Detector(), settings.Rhythm())
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}

	var nc *nats.Conn
	var pub transport.Publisher
	if publish {
		nc, err = transport.Connect(settings.NATSURL, "qrsdetect-capture", log)
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
		}
		defer nc.Close()
		pub = nc
	}
	sink := newBeatSink(log, pub, settings.BeatSubject, source, settings.SamplingRate)
	waveSubject := transport.Subject(settings.WaveSubject, source)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capture.Start(ctx); err != nil {
		return fmt.Errorf("audio start: %w", err)
	}
	log.WithFields(logrus.Fields{
		"device":        settings.DeviceIndex,
		"capture_rate":  settings.CaptureRate,
		"detector_rate": settings.SamplingRate,
		"mains":         settings.MainsFrequency,
	}).Info("capturing")

	humHigh := false
	for {
		select {
		case <-ctx.Done():
			log.WithField("dropped", capture.Dropped()).Info("stopped")
			return nil

		case samples, ok := <-capture.Samples:
			if !ok {
				return errors.New("audio capture closed")
			}
			res, err := lineIn.Process(samples)
			if err != nil {
				return err
			}

			for _, h := range res.Hum {
				if h.High != humHigh {
					humHigh = h.High
					entry := log.WithField("ratio", fmt.Sprintf("%.2f", h.Ratio))
					if h.High {
						entry.Warn("mains hum above threshold")
					} else {
						entry.Info("mains hum cleared")
					}
				}
			}
			if len(res.Samples) == 0 {
				continue
			}

			if nc != nil {
				if err := nc.Publish(waveSubject, transport.EncodeSamples(toFloat32(res.Samples))); err != nil {
					log.WithError(err).Warn("publish wave")
				}
			}

			sess, results, err := registry.Feed(source, res.Samples)
			if err != nil {
				return err
			}
			if err := sink.emit(sess.ID.String(), results); err != nil {
				log.WithError(err).Warn("beat not published")
			}
		}
	}
}

func listDevices(cmd *cobra.Command, capture *audio.Capture) error {
	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}
	for i := range devices {
		fmt.Fprintf(out, "%d: %s\n", i, devices[i].Name())
	}
	return nil
}

func toFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v)
	}
	return out
}
