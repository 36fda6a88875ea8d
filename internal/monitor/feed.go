package monitor

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
)

// DecodeBeat turns a published beat into a model message. Malformed
// payloads become an ErrMsg so they surface in the status bar.
func DecodeBeat(subject string, data []byte) tea.Msg {
	var b BeatMsg
	if err := json.Unmarshal(data, &b); err != nil {
		return ErrMsg{Err: fmt.Errorf("%s: %w", subject, err)}
	}
	return b
}

// Feed subscribes to every source under beatSubject and forwards beats
// to send, normally (*tea.Program).Send.
func Feed(nc *nats.Conn, beatSubject string, send func(tea.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(beatSubject+".>", func(msg *nats.Msg) {
		send(DecodeBeat(msg.Subject, msg.Data))
	})
}
