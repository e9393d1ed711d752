package port

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/domain"
)

// stubSession implements Session with function fields.
type stubSession struct {
	mu         sync.Mutex
	snap       app.Snapshot
	loginFn    func(username, password string) error
	registerFn func(req app.RegisterRequest) error
	logouts    int
	dismissals int
}

func (s *stubSession) Login(_ context.Context, username, password string) error {
	if s.loginFn != nil {
		return s.loginFn(username, password)
	}
	return nil
}

func (s *stubSession) Register(_ context.Context, req app.RegisterRequest) error {
	if s.registerFn != nil {
		return s.registerFn(req)
	}
	return nil
}

func (s *stubSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return nil
}

func (s *stubSession) Send(context.Context, string) *app.SendResult { return nil }

func (s *stubSession) DismissError(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissals++
	return nil
}

func (s *stubSession) Snapshot() app.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubSession) Subscribe() (<-chan app.Snapshot, func()) {
	ch := make(chan app.Snapshot)
	return ch, func() { close(ch) }
}

func newTestModel(s *stubSession) Model {
	return NewModel(context.Background(), s, make(chan app.Snapshot))
}

func key(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+l":
		return tea.KeyMsg{Type: tea.KeyCtrlL}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func typeText(m Model, text string) Model {
	for _, r := range text {
		next, _ := m.Update(key(string(r)))
		m = next.(Model)
	}
	return m
}

func press(m Model, k string) (Model, tea.Cmd) {
	next, cmd := m.Update(key(k))
	return next.(Model), cmd
}

func loggedIn() app.Snapshot {
	return app.Snapshot{
		Phase:    app.PhaseLoggedIn,
		Identity: domain.MustIdentity("u1", "ana"),
		Conn:     app.ConnConnected,
		Joined:   true,
		Status:   app.Status{Connected: true},
	}
}

func TestModel_LoginSubmitsCredentials(t *testing.T) {
	// Arrange
	var gotUser, gotPass string
	s := &stubSession{loginFn: func(u, p string) error {
		gotUser, gotPass = u, p
		return nil
	}}
	m := newTestModel(s)

	// Act
	m = typeText(m, "ana")
	m, _ = press(m, "tab")
	m = typeText(m, "secret")
	_, cmd := press(m, "enter")
	require.NotNil(t, cmd)
	msg := cmd()

	// Assert
	assert.Equal(t, "ana", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, authDoneMsg{}, msg)
}

func TestModel_AuthFailureClearsPassword(t *testing.T) {
	// Arrange
	m := newTestModel(&stubSession{})
	m = typeText(m, "ana")
	m, _ = press(m, "tab")
	m = typeText(m, "wrong")

	// Act
	next, _ := m.Update(authDoneMsg{err: domain.NewRemoteError(domain.ErrInvalidCredentials, "bad password")})
	m = next.(Model)

	// Assert
	assert.Empty(t, m.fields[fieldPassword].Value())
	assert.Equal(t, "ana", m.fields[fieldUsername].Value())
}

func TestModel_RegisterModeSubmitsAllFields(t *testing.T) {
	// Arrange
	var got app.RegisterRequest
	s := &stubSession{registerFn: func(req app.RegisterRequest) error {
		got = req
		return nil
	}}
	m := newTestModel(s)

	// Act
	m, _ = press(m, "ctrl+r")
	for i, text := range []string{"ana", "ana@example.com", "pw", "code"} {
		if i > 0 {
			m, _ = press(m, "tab")
		}
		m = typeText(m, text)
	}
	_, cmd := press(m, "enter")
	require.NotNil(t, cmd)
	cmd()

	// Assert
	assert.Equal(t, app.RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "pw", AuthCode: "code"}, got)
	assert.Contains(t, m.View(), "Create an account")
}

func TestModel_InputsFrozenWhileAuthenticating(t *testing.T) {
	// Arrange
	m := newTestModel(&stubSession{})
	next, _ := m.Update(snapshotMsg(app.Snapshot{Phase: app.PhaseAuthenticating, Status: app.Status{Loading: true}}))
	m = next.(Model)

	// Act
	m = typeText(m, "late")
	_, cmd := press(m, "enter")

	// Assert
	assert.Empty(t, m.fields[fieldUsername].Value())
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "authenticating")
}

func TestModel_ErrorBannerDismiss(t *testing.T) {
	// Arrange
	s := &stubSession{}
	m := newTestModel(s)
	next, _ := m.Update(snapshotMsg(app.Snapshot{Status: app.Status{Error: "invalid authentication code, please try again"}}))
	m = next.(Model)
	require.Contains(t, m.View(), "invalid authentication code, please try again")

	// Act
	_, cmd := press(m, "esc")
	require.NotNil(t, cmd)
	cmd()

	// Assert
	assert.Equal(t, 1, s.dismissals)
}

func TestModel_ChatViewRendersMessages(t *testing.T) {
	// Arrange
	m := newTestModel(&stubSession{})
	snap := loggedIn()
	ts := time.Date(2026, 1, 15, 9, 5, 0, 0, time.Local)
	snap.Messages = []domain.Message{
		{ID: "m1", UserID: "u9", Username: "bob", Text: "hello there", Timestamp: ts.UnixMilli()},
		{ID: "m2", UserID: "u1", Username: "ana", Text: "hi bob", Timestamp: ts.UnixMilli()},
	}

	// Act
	next, _ := m.Update(snapshotMsg(snap))
	view := next.(Model).View()

	// Assert
	assert.Contains(t, view, "[09:05]")
	assert.Contains(t, view, "hello there")
	assert.Contains(t, view, "hi bob")
	assert.Contains(t, view, "connected")
}

func TestModel_LogoutKey(t *testing.T) {
	// Arrange
	s := &stubSession{}
	m := newTestModel(s)
	next, _ := m.Update(snapshotMsg(loggedIn()))
	m = next.(Model)

	// Act
	_, cmd := press(m, "ctrl+l")
	require.NotNil(t, cmd)
	cmd()

	// Assert
	assert.Equal(t, 1, s.logouts)
}

func TestModel_SendStartedMirrorsDraft(t *testing.T) {
	// Arrange
	s := &stubSession{snap: loggedIn()}
	m := newTestModel(s)
	next, _ := m.Update(snapshotMsg(loggedIn()))
	m = next.(Model)
	m = typeText(m, "hello")

	// Act: the session cleared its draft on transmission.
	next, cmd := m.Update(sendStartedMsg{text: "hello", res: nil})
	m = next.(Model)

	// Assert
	assert.Empty(t, m.compose.Value())
	assert.NotNil(t, cmd)
}

func TestModel_SessionEndQuits(t *testing.T) {
	m := newTestModel(&stubSession{})

	_, cmd := m.Update(sessionEndedMsg{})

	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestRenderMessages_Empty(t *testing.T) {
	out := renderMessages(nil, domain.Identity{})
	assert.True(t, strings.Contains(out, "no messages yet"))
}
