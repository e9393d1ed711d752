// Package port holds the chat client's interactive terminal interface. It
// renders session snapshots and turns key presses into session calls; it
// never mutates session state itself.
package port

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/domain"
)

// Session is the subset of *app.Manager the UI drives.
type Session interface {
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, req app.RegisterRequest) error
	Logout(ctx context.Context) error
	Send(ctx context.Context, text string) *app.SendResult
	DismissError(ctx context.Context) error
	Snapshot() app.Snapshot
	Subscribe() (<-chan app.Snapshot, func())
}

var _ Session = (*app.Manager)(nil)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	selfStyle = lipgloss.NewStyle().
			Foreground(selfColor).
			Bold(true)

	otherStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)
)

// Form field indexes.
const (
	fieldUsername = iota
	fieldEmail
	fieldPassword
	fieldAuthCode
	fieldCount
)

type (
	snapshotMsg     app.Snapshot
	sessionEndedMsg struct{}
	authDoneMsg     struct{ err error }
	sendStartedMsg  struct {
		text string
		res  *app.SendResult
	}
	sendDoneMsg struct{ err error }
)

// Model is the bubbletea model of the chat client.
type Model struct {
	ctx     context.Context
	session Session
	updates <-chan app.Snapshot
	snap    app.Snapshot

	registering bool
	focus       int
	fields      []textinput.Model
	compose     textinput.Model
	history     viewport.Model
	spinner     spinner.Model

	width  int
	height int
}

// NewModel builds the UI for session. updates is a subscription to the
// session's snapshots.
func NewModel(ctx context.Context, session Session, updates <-chan app.Snapshot) Model {
	fields := make([]textinput.Model, fieldCount)
	placeholders := [fieldCount]string{"username", "email", "password", "authentication code"}
	for i := range fields {
		in := textinput.New()
		in.Placeholder = placeholders[i]
		in.CharLimit = 128
		in.Width = 40
		fields[i] = in
	}
	fields[fieldPassword].EchoMode = textinput.EchoPassword
	fields[fieldPassword].EchoCharacter = '•'
	fields[fieldAuthCode].EchoMode = textinput.EchoPassword
	fields[fieldAuthCode].EchoCharacter = '•'
	fields[fieldUsername].Focus()

	compose := textinput.New()
	compose.Placeholder = "type a message"
	compose.CharLimit = 2000
	compose.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		ctx:     ctx,
		session: session,
		updates: updates,
		snap:    session.Snapshot(),
		fields:  fields,
		compose: compose,
		history: viewport.New(80, 20),
		spinner: sp,
	}
}

// Run drives the terminal UI until the user quits or ctx is done.
func Run(ctx context.Context, session Session, opts ...tea.ProgramOption) error {
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(ctx, session, updates), opts...)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}

func waitForSnapshot(updates <-chan app.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return sessionEndedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.updates), m.spinner.Tick, textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		wasLoggedIn := m.snap.LoggedIn()
		m.snap = app.Snapshot(msg)
		if m.snap.LoggedIn() && !wasLoggedIn {
			m.compose.Focus()
		}
		if !m.snap.LoggedIn() && wasLoggedIn {
			m.compose.Reset()
			m.focusField(fieldUsername)
		}
		m.refreshHistory()
		return m, waitForSnapshot(m.updates)

	case sessionEndedMsg:
		return m, tea.Quit

	case authDoneMsg:
		if msg.err == nil {
			for i := range m.fields {
				m.fields[i].Reset()
			}
			return m, nil
		}
		if domain.IsAuthError(msg.err) {
			m.fields[fieldPassword].Reset()
		}
		return m, nil

	case sendStartedMsg:
		// Mirror the session's draft unless the user already typed on.
		if m.compose.Value() == msg.text {
			m.compose.SetValue(m.session.Snapshot().Draft)
		}
		return m, waitForSend(m.ctx, msg.res)

	case sendDoneMsg:
		if msg.err != nil && m.compose.Value() == "" {
			m.compose.SetValue(m.session.Snapshot().Draft)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.history.Width = max(msg.Width-4, 20)
		m.history.Height = max(msg.Height-8, 5)
		m.compose.Width = max(msg.Width-6, 20)
		m.refreshHistory()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.snap.Status.Error != "" {
			return m, m.dismissError()
		}
		return m, nil
	}

	if m.snap.LoggedIn() {
		return m.handleChatKey(msg)
	}
	return m.handleFormKey(msg)
}

func (m Model) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Inputs are frozen while a request is in flight.
	if m.snap.Phase == app.PhaseAuthenticating {
		return m, nil
	}

	switch msg.String() {
	case "ctrl+r":
		m.registering = !m.registering
		m.focusField(fieldUsername)
		return m, nil
	case "tab", "down":
		m.focusField(m.nextField(1))
		return m, nil
	case "shift+tab", "up":
		m.focusField(m.nextField(-1))
		return m, nil
	case "enter":
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+l":
		return m, m.logout()
	case "enter":
		return m, m.send(m.compose.Value())
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.compose, cmd = m.compose.Update(msg)
	return m, cmd
}

// visibleFields lists the form fields of the current mode in tab order.
func (m Model) visibleFields() []int {
	if m.registering {
		return []int{fieldUsername, fieldEmail, fieldPassword, fieldAuthCode}
	}
	return []int{fieldUsername, fieldPassword}
}

func (m Model) nextField(step int) int {
	visible := m.visibleFields()
	pos := 0
	for i, f := range visible {
		if f == m.focus {
			pos = i
		}
	}
	pos = (pos + step + len(visible)) % len(visible)
	return visible[pos]
}

func (m *Model) focusField(field int) {
	m.focus = field
	for i := range m.fields {
		if i == field {
			m.fields[i].Focus()
		} else {
			m.fields[i].Blur()
		}
	}
}

func (m Model) submit() tea.Cmd {
	ctx, session := m.ctx, m.session
	username := strings.TrimSpace(m.fields[fieldUsername].Value())
	password := m.fields[fieldPassword].Value()

	if !m.registering {
		return func() tea.Msg {
			return authDoneMsg{err: session.Login(ctx, username, password)}
		}
	}
	req := app.RegisterRequest{
		Username: username,
		Email:    strings.TrimSpace(m.fields[fieldEmail].Value()),
		Password: password,
		AuthCode: m.fields[fieldAuthCode].Value(),
	}
	return func() tea.Msg {
		return authDoneMsg{err: session.Register(ctx, req)}
	}
}

func (m Model) send(text string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		return sendStartedMsg{text: text, res: session.Send(ctx, text)}
	}
}

func waitForSend(ctx context.Context, res *app.SendResult) tea.Cmd {
	return func() tea.Msg {
		_, err := res.Wait(ctx)
		return sendDoneMsg{err: err}
	}
}

func (m Model) logout() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		_ = session.Logout(ctx)
		return nil
	}
}

func (m Model) dismissError() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		_ = session.DismissError(ctx)
		return nil
	}
}

func (m *Model) refreshHistory() {
	atBottom := m.history.AtBottom()
	m.history.SetContent(renderMessages(m.snap.Messages, m.snap.Identity))
	if atBottom {
		m.history.GotoBottom()
	}
}

// renderMessages formats the history as "[HH:MM] user: text" lines, the
// user's own messages highlighted.
func renderMessages(msgs []domain.Message, self domain.Identity) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("no messages yet")
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		name := otherStyle.Render(msg.Username)
		if msg.UserID == self.ID {
			name = selfStyle.Render(msg.Username)
		}
		stamp := mutedStyle.Render("[" + msg.Time().Local().Format("15:04") + "]")
		fmt.Fprintf(&b, "%s %s: %s", stamp, name, msg.Text)
	}
	return b.String()
}

func (m Model) View() string {
	var sections []string
	sections = append(sections, m.headerView())
	if banner := m.snap.Status.Error; banner != "" {
		sections = append(sections, errorStyle.Render(banner)+mutedStyle.Render("  (esc to dismiss)"))
	}
	if m.snap.LoggedIn() {
		sections = append(sections, m.chatView())
	} else {
		sections = append(sections, m.formView())
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) headerView() string {
	title := titleStyle.Render("roomchat")
	if !m.snap.LoggedIn() {
		return title
	}

	status := mutedStyle.Render("○ " + m.snap.Conn.String())
	if m.snap.Status.Connected {
		status = selfStyle.Render("● connected")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", status, "  ", mutedStyle.Render(m.snap.Identity.Username))
}

func (m Model) formView() string {
	heading := "Log in"
	toggle := "ctrl+r: create an account"
	if m.registering {
		heading = "Create an account"
		toggle = "ctrl+r: back to log in"
	}

	lines := []string{titleStyle.Render(heading), ""}
	for _, f := range m.visibleFields() {
		lines = append(lines, m.fields[f].View())
	}
	lines = append(lines, "")
	if m.snap.Status.Loading {
		lines = append(lines, m.spinner.View()+" authenticating...")
	} else {
		lines = append(lines, mutedStyle.Render("enter: submit • tab: next field • "+toggle))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) chatView() string {
	footer := mutedStyle.Render("enter: send • pgup/pgdown: scroll • ctrl+l: log out • ctrl+c: quit")
	body := m.history.View()
	if m.snap.Status.Loading {
		body = m.spinner.View() + " loading messages..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, "", m.compose.View(), footer)
}
