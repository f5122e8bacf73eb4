package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/scope"
)

// state tracks where the monitor is in its lifecycle
type state int

const (
	stateConnecting state = iota
	stateReady
	stateFailed
)

// Messages
type connectedMsg struct {
	info     device.Info
	channels []device.Channel
}

type connectErrMsg struct{ err error }

type batchMsg []scope.Sample

type streamStartedMsg struct {
	subs []*scope.Subscription
}

type streamStoppedMsg struct{}

type statusMsg string

// keyMap defines key bindings for the monitor
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	DivUp  key.Binding
	DivDn  key.Binding
	Stream key.Binding
	Apply  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Stream, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.DivUp, k.DivDn, k.Apply},
		{k.Stream, k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Toggle: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "toggle channel"),
	),
	DivUp: key.NewBinding(
		key.WithKeys("+", "="),
		key.WithHelp("+", "divider up"),
	),
	DivDn: key.NewBinding(
		key.WithKeys("-"),
		key.WithHelp("-", "divider down"),
	),
	Stream: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start/stop stream"),
	),
	Apply: key.NewBinding(
		key.WithKeys("w"),
		key.WithHelp("w", "write config"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// row is the monitor's per-channel state. enabled and div are the staged
// configuration; they take effect on stream start or explicit write.
type row struct {
	ch      device.Channel
	enabled bool
	div     uint8
	last    string
	count   uint64
}

// Model is the top-level bubbletea model for the channel monitor.
type Model struct {
	sess   *scope.Session
	target string

	state state
	err   error
	info  device.Info

	rows      []row
	cursor    int
	streaming bool
	status    string

	// samples carries batches from subscription forwarders into the
	// update loop. One listener command is kept alive for the life of
	// the program.
	samples chan []scope.Sample
	subs    []*scope.Subscription

	width  int
	height int

	help help.Model
	keys keyMap
}

// New creates a monitor model over an unconnected session. target is a
// human-readable description of the transport for the header line.
func New(sess *scope.Session, target string) Model {
	return Model{
		sess:    sess,
		target:  target,
		state:   stateConnecting,
		samples: make(chan []scope.Sample, 16),
		help:    help.New(),
		keys:    defaultKeys,
	}
}

// Init starts the connection attempt.
func (m Model) Init() tea.Cmd {
	return m.connectCmd()
}

func (m Model) connectCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := sess.Connect(ctx); err != nil {
			return connectErrMsg{err}
		}
		info, err := sess.Info()
		if err != nil {
			return connectErrMsg{err}
		}
		channels, err := sess.Channels()
		if err != nil {
			return connectErrMsg{err}
		}
		return connectedMsg{info: info, channels: channels}
	}
}

// waitForBatch blocks on the sample channel and delivers one batch. The
// update loop reissues it after every batchMsg so exactly one listener
// is outstanding at any time.
func (m Model) waitForBatch() tea.Cmd {
	samples := m.samples
	return func() tea.Msg {
		return batchMsg(<-samples)
	}
}

func (m Model) startStreamCmd() tea.Cmd {
	sess := m.sess
	rows := make([]row, len(m.rows))
	copy(rows, m.rows)
	samples := m.samples
	divider := m.info.DividerSupported()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, r := range rows {
			if r.enabled {
				if err := sess.ChannelEnable(r.ch.ID); err != nil {
					return statusMsg(fmt.Sprintf("channel %d: %v", r.ch.ID, err))
				}
				if divider {
					if err := sess.ChannelDivider(r.ch.ID, r.div); err != nil {
						return statusMsg(fmt.Sprintf("channel %d: %v", r.ch.ID, err))
					}
				}
			} else {
				if err := sess.ChannelDisable(r.ch.ID); err != nil {
					return statusMsg(fmt.Sprintf("channel %d: %v", r.ch.ID, err))
				}
			}
		}

		var subs []*scope.Subscription
		for _, r := range rows {
			if !r.enabled {
				continue
			}
			sub, err := sess.Subscribe(r.ch.ID)
			if err != nil {
				return statusMsg(fmt.Sprintf("subscribe %d: %v", r.ch.ID, err))
			}
			subs = append(subs, sub)
		}

		if err := sess.StreamStart(ctx); err != nil {
			for _, sub := range subs {
				sess.Unsubscribe(sub)
			}
			return statusMsg(fmt.Sprintf("stream start failed: %v", err))
		}

		// Forwarders exit when their subscription queue is closed on
		// unsubscribe.
		for _, sub := range subs {
			go func(sub *scope.Subscription) {
				for batch := range sub.Samples() {
					samples <- batch
				}
			}(sub)
		}

		return streamStartedMsg{subs: subs}
	}
}

func (m Model) stopStreamCmd() tea.Cmd {
	sess := m.sess
	subs := m.subs
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := sess.StreamStop(ctx); err != nil {
			return statusMsg(fmt.Sprintf("stream stop failed: %v", err))
		}
		for _, sub := range subs {
			sess.Unsubscribe(sub)
		}
		return streamStoppedMsg{}
	}
}

func (m Model) applyCmd() tea.Cmd {
	sess := m.sess
	rows := make([]row, len(m.rows))
	copy(rows, m.rows)
	divider := m.info.DividerSupported()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, r := range rows {
			var err error
			if r.enabled {
				err = sess.ChannelEnable(r.ch.ID)
				if err == nil && divider {
					err = sess.ChannelDivider(r.ch.ID, r.div)
				}
			} else {
				err = sess.ChannelDisable(r.ch.ID)
			}
			if err != nil {
				return statusMsg(fmt.Sprintf("channel %d: %v", r.ch.ID, err))
			}
		}
		if err := sess.ChannelsWrite(ctx); err != nil {
			return statusMsg(fmt.Sprintf("write failed: %v", err))
		}
		return statusMsg("configuration written")
	}
}

// Update handles messages and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case connectedMsg:
		m.state = stateReady
		m.info = msg.info
		m.rows = make([]row, 0, len(msg.channels))
		for _, ch := range msg.channels {
			if !ch.IsValid() {
				continue
			}
			div := ch.Div
			if div == 0 {
				div = 1
			}
			m.rows = append(m.rows, row{ch: ch, enabled: ch.Enabled, div: div})
		}
		m.status = "connected"
		return m, m.waitForBatch()

	case connectErrMsg:
		m.state = stateFailed
		m.err = msg.err
		return m, nil

	case batchMsg:
		for _, s := range msg {
			for i := range m.rows {
				if m.rows[i].ch.ID != s.Channel {
					continue
				}
				m.rows[i].last = formatValue(s)
				m.rows[i].count++
			}
		}
		return m, m.waitForBatch()

	case streamStartedMsg:
		m.streaming = true
		m.subs = msg.subs
		m.status = "streaming"
		return m, nil

	case streamStoppedMsg:
		m.streaming = false
		m.subs = nil
		m.status = "stream stopped"
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.state != stateReady {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		if len(m.rows) > 0 {
			m.rows[m.cursor].enabled = !m.rows[m.cursor].enabled
		}

	case key.Matches(msg, m.keys.DivUp):
		if len(m.rows) > 0 && m.info.DividerSupported() {
			if r := &m.rows[m.cursor]; r.div < 255 {
				r.div++
			}
		}

	case key.Matches(msg, m.keys.DivDn):
		if len(m.rows) > 0 && m.info.DividerSupported() {
			if r := &m.rows[m.cursor]; r.div > 1 {
				r.div--
			}
		}

	case key.Matches(msg, m.keys.Apply):
		if !m.streaming {
			return m, m.applyCmd()
		}
		m.status = "stop the stream before writing configuration"

	case key.Matches(msg, m.keys.Stream):
		if m.streaming {
			m.status = "stopping..."
			return m, m.stopStreamCmd()
		}
		m.status = "starting..."
		return m, m.startStreamCmd()
	}

	return m, nil
}

// View renders the monitor.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(AppName))
	b.WriteString("\n")
	b.WriteString(StatusStyle.Render(fmt.Sprintf("Target: %s", m.target)))
	b.WriteString("\n")

	switch m.state {
	case stateConnecting:
		b.WriteString("\nConnecting...\n")

	case stateFailed:
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Connection failed: %v", m.err)))
		b.WriteString("\n")

	case stateReady:
		summary := fmt.Sprintf("%d channels, divider=%v, ack=%v",
			m.info.ChMax, m.info.DividerSupported(), m.info.AckSupported())
		b.WriteString(StatusStyle.Render(summary))
		b.WriteString("\n\n")

		if m.streaming {
			b.WriteString(StreamingStyle.Render("● STREAMING"))
		} else {
			b.WriteString(StatusStyle.Render("○ stopped"))
		}
		if m.status != "" {
			b.WriteString(StatusStyle.Render("  " + m.status))
		}
		if ov := m.sess.Overflows(); ov > 0 {
			b.WriteString(StatusStyle.Render(fmt.Sprintf("  overflows=%d", ov)))
		}
		b.WriteString("\n\n")

		b.WriteString(HeaderRowStyle.Render(fmt.Sprintf(
			"  %-4s %-10s %-8s %-4s %-4s %-10s %s",
			"ID", "NAME", "TYPE", "EN", "DIV", "SAMPLES", "LAST")))
		b.WriteString("\n")

		for i, r := range m.rows {
			en := " "
			if r.enabled {
				en = "x"
			}
			line := fmt.Sprintf("%-4d %-10s %-8s [%s]  %-4d %-10d %s",
				r.ch.ID, r.ch.Name, r.ch.Type(), en, r.div, r.count, r.last)

			switch {
			case i == m.cursor:
				b.WriteString(SelectedRowStyle.Render("> " + line))
			case !r.enabled:
				b.WriteString(DisabledRowStyle.Render(line))
			default:
				b.WriteString(RowStyle.Render(line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))

	return b.String()
}

// formatValue renders one sample for the LAST column.
func formatValue(s scope.Sample) string {
	if s.Text != "" {
		return strconv.Quote(s.Text)
	}
	if len(s.Values) > 0 {
		vals := make([]string, len(s.Values))
		for i, v := range s.Values {
			vals[i] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		return "[" + strings.Join(vals, " ") + "]"
	}
	if len(s.Meta) > 0 {
		return fmt.Sprintf("meta=%v", s.Meta)
	}
	return ""
}
