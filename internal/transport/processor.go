package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ColonelBlimp/qrsdetect/internal/session"
)

// Publisher is the part of *nats.Conn the processor writes through.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ProcessorConfig holds configuration for the wave processor.
type ProcessorConfig struct {
	// WaveSubject is the prefix samples arrive on (from config: wave_subject)
	WaveSubject string
	// BeatSubject is the prefix beats are published on (from config: beat_subject)
	BeatSubject string
	// SamplingRate converts beat intervals to milliseconds (from config: sampling_rate)
	SamplingRate float64
	// SessionTimeout releases sources that stop sending (from config: session_timeout)
	SessionTimeout time.Duration
}

// ErrInvalidProcessorConfig indicates a missing subject or a non-positive rate or timeout
var ErrInvalidProcessorConfig = errors.New("processor needs both subjects, a positive sampling rate and a positive session timeout")

// ProcessorStats are running counters.
type ProcessorStats struct {
	Messages int64
	Samples  int64
	Beats    int64
	Dropped  int64
}

// Processor turns wave batches into published beats, one detector
// session per source.
type Processor struct {
	config   ProcessorConfig
	registry *session.Registry
	pub      Publisher
	log      *logrus.Entry
	now      func() time.Time

	// Decode buffer; NATS delivers one subscription's messages in order
	// on a single goroutine, so it is never shared.
	buf []float64

	messages atomic.Int64
	samples  atomic.Int64
	beats    atomic.Int64
	dropped  atomic.Int64
}

// NewProcessor creates a processor publishing through pub.
func NewProcessor(cfg ProcessorConfig, registry *session.Registry, pub Publisher, log *logrus.Entry) (*Processor, error) {
	if cfg.WaveSubject == "" || cfg.BeatSubject == "" || !(cfg.SamplingRate > 0) || cfg.SessionTimeout <= 0 {
		return nil, ErrInvalidProcessorConfig
	}
	if registry == nil || pub == nil {
		return nil, fmt.Errorf("%w: registry and publisher are required", ErrInvalidProcessorConfig)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		config:   cfg,
		registry: registry,
		pub:      pub,
		log:      log.WithField("component", "processor"),
		now:      time.Now,
	}, nil
}

// HandleWave processes one wave message and publishes any beats.
func (p *Processor) HandleWave(subject string, data []byte) error {
	p.messages.Add(1)

	source, err := SourceFromSubject(p.config.WaveSubject, subject)
	if err != nil {
		p.dropped.Add(1)
		return err
	}
	p.buf, err = DecodeSamples(p.buf, data)
	if err != nil {
		p.dropped.Add(1)
		return fmt.Errorf("source %s: %w", source, err)
	}
	p.samples.Add(int64(len(p.buf)))

	sess, results, err := p.registry.Feed(source, p.buf)
	if err != nil {
		p.dropped.Add(1)
		return err
	}

	for _, r := range results {
		msg := NewBeatMessage(source, sess.ID.String(), r, p.config.SamplingRate, p.now())
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := p.pub.Publish(Subject(p.config.BeatSubject, source), b); err != nil {
			return fmt.Errorf("publish beat: %w", err)
		}
		p.beats.Add(1)
		p.log.WithFields(logrus.Fields{
			"source": source,
			"count":  r.Beat.Count,
			"bpm":    r.Beat.BPM,
		}).Debug("beat")
	}
	return nil
}

// Subscribe attaches the processor to every source under the wave prefix.
func (p *Processor) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	return nc.Subscribe(p.config.WaveSubject+".*", func(msg *nats.Msg) {
		if err := p.HandleWave(msg.Subject, msg.Data); err != nil {
			p.log.WithError(err).WithField("subject", msg.Subject).Warn("wave dropped")
		}
	})
}

// Run evicts idle sessions until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	interval := p.config.SessionTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evict()
		}
	}
}

func (p *Processor) evict() {
	for _, info := range p.registry.Evict(p.config.SessionTimeout) {
		p.log.WithFields(logrus.Fields{
			"source":  info.Source,
			"session": info.ID.String(),
			"beats":   info.Stats.Beats,
			"samples": info.Samples,
		}).Info("session released")
	}
}

// Stats returns the running counters.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Messages: p.messages.Load(),
		Samples:  p.samples.Load(),
		Beats:    p.beats.Load(),
		Dropped:  p.dropped.Load(),
	}
}
