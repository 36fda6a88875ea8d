// Package monitor is a terminal dashboard of live heart rate per source.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ColonelBlimp/qrsdetect/internal/transport"
)

const (
	refreshInterval = 250 * time.Millisecond
	minTrendWidth   = 10
)

// BeatMsg delivers one published beat.
type BeatMsg transport.BeatMessage

// TickMsg refreshes ages and staleness.
type TickMsg time.Time

// ErrMsg reports a feed error. The last one is shown in the status bar.
type ErrMsg struct {
	Err error
}

type source struct {
	name    string
	session string
	last    transport.BeatMessage
	seen    time.Time
	beats   int
	history *BPMRing
}

// shared is reached through a pointer so every copy of the value-receiver
// model sees the same sources.
type shared struct {
	sources map[string]*source
	now     func() time.Time
}

// Model is the root bubbletea model.
type Model struct {
	width  int
	height int

	subject     string
	historySize int
	staleAfter  time.Duration

	paused bool
	cursor int
	err    error

	shared *shared
	rows   []*source
}

// New creates a monitor for beats published under subject.
func New(subject string, historySize int, staleAfter time.Duration) Model {
	return Model{
		subject:     subject,
		historySize: historySize,
		staleAfter:  staleAfter,
		shared: &shared{
			sources: make(map[string]*source),
			now:     time.Now,
		},
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case BeatMsg:
		if !m.paused {
			m.record(transport.BeatMessage(msg))
			m.rows = m.snapshot()
		}
		return m, nil

	case TickMsg:
		m.rows = m.snapshot()
		return m, tickCmd()

	case ErrMsg:
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "p", "P":
		m.paused = !m.paused

	case "c", "C":
		clear(m.shared.sources)
		m.rows = nil
		m.cursor = 0
		m.err = nil

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	}
	return m, nil
}

// record folds a beat into its source. A new session restarts the trend.
func (m Model) record(b transport.BeatMessage) {
	s, ok := m.shared.sources[b.Source]
	if !ok || s.session != b.Session {
		s = &source{name: b.Source, session: b.Session, history: NewBPMRing(m.historySize)}
		m.shared.sources[b.Source] = s
	}
	s.last = b
	s.seen = m.shared.now()
	s.beats++
	s.history.Push(float64(b.BPM))
}

func (m Model) snapshot() []*source {
	rows := make([]*source, 0, len(m.shared.sources))
	for _, s := range m.shared.sources {
		rows = append(rows, s)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing monitor..."
	}

	header := StyleHeader.Width(m.width).Render(fmt.Sprintf("QRSDETECT MONITOR  %s", m.subject))

	trendW := max(m.width-62, minTrendWidth)
	columns := StyleColumn.Render(fmt.Sprintf(" %-12s %5s %6s %7s %7s %7s %6s  %s",
		"SOURCE", "BPM", "AVG", "BEATS", "SDNN", "RMSSD", "SEEN", "TREND"))

	lines := []string{header, columns}
	if len(m.rows) == 0 {
		lines = append(lines, "", StyleHelp.Render(" Waiting for beats..."))
	}
	now := m.shared.now()
	for i, s := range m.rows {
		line := m.renderRow(s, now, trendW)
		if i == m.cursor {
			line = StyleCursor.Render(line)
		}
		lines = append(lines, line)
	}

	bodyH := max(m.height-1, len(lines))
	for len(lines) < bodyH {
		lines = append(lines, "")
	}
	lines = append(lines, m.renderStatus())
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(s *source, now time.Time, trendW int) string {
	age := now.Sub(s.seen)
	r := s.last.Rhythm

	name := fmt.Sprintf(" %-12s", truncate(s.name, 12))
	bpm := fmt.Sprintf(" %5d", s.last.BPM)
	rest := fmt.Sprintf(" %6.1f %7d %7.1f %7.1f %6s  ",
		r.SmoothedBPM, s.last.Count, r.SDNN, r.RMSSD, formatAge(age))
	trend := renderSparkline(s.history.Values(), trendW)

	if m.staleAfter > 0 && age > m.staleAfter {
		return StyleStale.Render(name + bpm + rest + trend)
	}
	return StyleSource.Render(name) + StyleBPM.Render(bpm) + StyleValue.Render(rest) + StyleSpark.Render(trend)
}

func (m Model) renderStatus() string {
	status := "[LIVE]"
	if m.paused {
		status = "[PAUSED]"
	}
	total := 0
	for _, s := range m.rows {
		total += s.beats
	}
	info := fmt.Sprintf(" Sources: %d  Beats: %d  q quit  p pause  c clear", len(m.rows), total)
	content := status + info
	if m.err != nil {
		content += "  " + StyleError.Render(m.err.Error())
	}
	if gap := m.width - lipgloss.Width(content); gap > 0 {
		content += strings.Repeat(" ", gap)
	}
	return StyleStatusBar.Render(content)
}

var sparkChars = []rune("▁▂▃▄▅▆▇█")

func renderSparkline(values []float64, width int) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = min(minV, v)
		maxV = max(maxV, v)
	}
	rng := max(maxV-minV, 1)

	var sb strings.Builder
	for _, v := range values {
		idx := int((v - minV) / rng * float64(len(sparkChars)-1))
		idx = max(0, min(idx, len(sparkChars)-1))
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
