package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/docease/telecare/internal/models"
)

// CallAction is a call control chosen from the keyboard.
type CallAction int

const (
	ActionStartCall CallAction = iota + 1
	ActionAccept
	ActionReject
	ActionEnd
)

// Update carries an external change into the consultation view.
type Update struct {
	// History, when non-nil, replaces the displayed messages.
	History []models.Message

	// CallState is the new call state label, if any.
	CallState string

	// Incoming is set while a call waits to be answered.
	Incoming     bool
	IncomingFrom string

	// Notice is a one-line status; Err marks it as an error.
	Notice string
	Err    bool

	PeerOnline *bool
}

// Handlers connect the view to the chat poller and the call session.
type Handlers struct {
	Send func(text string) error
	Call func(action CallAction)
}

// ConsultationModel shows one appointment: the call state on top, the chat
// history below and an input line.
type ConsultationModel struct {
	appointmentID string
	self          string
	handlers      Handlers

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	history      []models.Message
	callState    string
	incoming     bool
	incomingFrom string
	peerOnline   bool
	notice       string
	noticeErr    bool

	width  int
	height int

	// queue holds updates not yet applied. Only consecutive history
	// snapshots are merged; every other update is kept.
	qmu     sync.Mutex
	queue   []Update
	wake    chan struct{}
	done    chan struct{}
	mu      sync.RWMutex
}

// NewConsultationModel creates the view for appointmentID as participant self.
func NewConsultationModel(appointmentID, self string, handlers Handlers) *ConsultationModel {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.CharLimit = 4096
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &ConsultationModel{
		appointmentID: appointmentID,
		self:          self,
		handlers:      handlers,
		viewport:      viewport.New(80, 12),
		input:         input,
		spinner:       s,
		callState:     "idle",
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Post queues u without blocking. A history-only update replaces a
// history-only update still waiting in the queue; call and presence
// updates are never dropped.
func (m *ConsultationModel) Post(u Update) {
	select {
	case <-m.done:
		return
	default:
	}

	m.qmu.Lock()
	if n := len(m.queue); n > 0 && historyOnly(u) && historyOnly(m.queue[n-1]) {
		m.queue[n-1] = u
	} else {
		m.queue = append(m.queue, u)
	}
	m.qmu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func historyOnly(u Update) bool {
	return u.History != nil && u.CallState == "" && !u.Incoming &&
		u.Notice == "" && u.PeerOnline == nil
}

// next pops the oldest queued update.
func (m *ConsultationModel) next() (Update, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.queue) == 0 {
		return Update{}, false
	}
	u := m.queue[0]
	m.queue[0] = Update{}
	m.queue = m.queue[1:]
	return u, true
}

// Close stops listening for updates.
func (m *ConsultationModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *ConsultationModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitForUpdates(),
	)
}

// waitForUpdates returns a command that listens for external updates
func (m *ConsultationModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		for {
			if u, ok := m.next(); ok {
				return u
			}
			select {
			case <-m.wake:
			case <-m.done:
				return nil
			}
		}
	}
}

type sendResult struct{ err error }

func (m *ConsultationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+k":
			m.callAction(ActionStartCall)
		case "ctrl+a":
			m.callAction(ActionAccept)
		case "ctrl+r":
			m.callAction(ActionReject)
		case "ctrl+e":
			m.callAction(ActionEnd)
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				break
			}
			m.input.Reset()
			cmds = append(cmds, m.send(text))
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = max(5, msg.Height-10)
		m.input.Width = msg.Width - 8
		m.refreshViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case sendResult:
		if msg.err != nil {
			m.setNotice(fmt.Sprintf("Message not sent: %v", msg.err), true)
		}

	case Update:
		m.apply(msg)
		cmds = append(cmds, m.waitForUpdates())

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *ConsultationModel) send(text string) tea.Cmd {
	send := m.handlers.Send
	return func() tea.Msg {
		if send == nil {
			return sendResult{}
		}
		return sendResult{err: send(text)}
	}
}

func (m *ConsultationModel) callAction(a CallAction) {
	if m.handlers.Call != nil {
		m.handlers.Call(a)
	}
}

func (m *ConsultationModel) apply(u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.History != nil {
		m.history = u.History
	}
	if u.CallState != "" {
		m.callState = u.CallState
		m.incoming = u.Incoming
		m.incomingFrom = u.IncomingFrom
	} else if u.Incoming {
		m.incoming = true
		m.incomingFrom = u.IncomingFrom
	}
	if u.PeerOnline != nil {
		m.peerOnline = *u.PeerOnline
	}
	if u.Notice != "" {
		m.notice, m.noticeErr = u.Notice, u.Err
	}
	m.refreshViewportLocked()
}

func (m *ConsultationModel) setNotice(text string, isErr bool) {
	m.mu.Lock()
	m.notice, m.noticeErr = text, isErr
	m.mu.Unlock()
}

func (m *ConsultationModel) refreshViewport() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshViewportLocked()
}

func (m *ConsultationModel) refreshViewportLocked() {
	m.viewport.SetContent(RenderHistory(m.history, m.self, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *ConsultationModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s Telecare - appointment %s", IconRoom, m.appointmentID))
	b.WriteString(header + "\n")
	b.WriteString(m.viewCall() + "\n\n")

	b.WriteString(PanelStyle.Render(m.viewport.View()) + "\n")
	b.WriteString(m.input.View() + "\n")

	if m.notice != "" {
		style := MutedStyle
		if m.noticeErr {
			style = ErrorStyle
		}
		b.WriteString(style.Render(m.notice) + "\n")
	}

	b.WriteString(FooterStyle.Render("enter send • ctrl+k call • ctrl+a accept • ctrl+r reject • ctrl+e end • esc quit"))
	return ContainerStyle.Render(b.String())
}

func (m *ConsultationModel) viewCall() string {
	presence := MutedStyle.Render("peer offline")
	if m.peerOnline {
		presence = SuccessStyle.Render(IconPeer + " peer online")
	}

	var status string
	switch {
	case m.incoming:
		status = WarningStyle.Render(fmt.Sprintf("%s Incoming call from %s (ctrl+a / ctrl+r)", IconCall, m.incomingFrom))
	case m.callState == "connected":
		status = SuccessStyle.Render(IconCall + " In call")
	case m.callState == "idle" || m.callState == "ended":
		status = MutedStyle.Render("No call")
	default:
		status = fmt.Sprintf("%s %s", m.spinner.View(), StatusStyle.Render(m.callState))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, status, "   ", presence)
}

// RenderHistory formats messages oldest first, own messages on the right.
func RenderHistory(history []models.Message, self string, width int) string {
	if len(history) == 0 {
		return MutedStyle.Render("No messages yet.")
	}
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for i, msg := range history {
		stamp := MutedStyle.Render(msg.CreatedAt.Local().Format(time.Kitchen))
		line := fmt.Sprintf("%s %s", msg.Text, stamp)
		if msg.SenderID == self {
			b.WriteString(OwnMessageStyle.Width(width).Render(line))
		} else {
			who := RoleLabel(msg.SenderRole)
			b.WriteString(PeerMessageStyle.Width(width).Render(BoldStyle.Render(who) + " " + line))
		}
		if i < len(history)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RoleLabel names a sender role for display.
func RoleLabel(r models.Role) string {
	if r == models.RoleDoctor {
		return "Doctor"
	}
	return "Patient"
}
