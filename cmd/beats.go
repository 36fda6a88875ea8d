package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ColonelBlimp/qrsdetect/internal/session"
	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

// beatSink logs accepted beats for commands that run a detector in
// process. With a publisher set, beats also go out on the beat subject
// so the monitor and the live server see them.
type beatSink struct {
	log     *logrus.Entry
	pub     transport.Publisher
	subject string
	source  string
	rate    float64
	now     func() time.Time
}

func newBeatSink(log *logrus.Entry, pub transport.Publisher, beatSubject, source string, rate float64) *beatSink {
	return &beatSink{
		log:     log.WithField("source", source),
		pub:     pub,
		subject: transport.Subject(beatSubject, source),
		source:  source,
		rate:    rate,
		now:     time.Now,
	}
}

func (b *beatSink) emit(sessionID string, results []session.Result) error {
	for _, r := range results {
		msg := transport.NewBeatMessage(b.source, sessionID, r, b.rate, b.now())
		b.log.WithFields(logrus.Fields{
			"count":        msg.Count,
			"bpm":          msg.BPM,
			"interval_ms":  msg.IntervalMs,
			"smoothed_bpm": msg.Rhythm.SmoothedBPM,
		}).Info("beat")

		if b.pub == nil {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode beat: %w", err)
		}
		if err := b.pub.Publish(b.subject, data); err != nil {
			return fmt.Errorf("publish beat: %w", err)
		}
	}
	return nil
}
