// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app is the root Bubble Tea model. It guards the console behind the
// session: a spinner while the session is restored, the login form while
// signed out, and the console with the expiry dialog while signed in.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/broadcast-console/internal/api"
	"github.com/jeranaias/broadcast-console/internal/clock"
	"github.com/jeranaias/broadcast-console/internal/session"
	"github.com/jeranaias/broadcast-console/internal/ui/components"
	"github.com/jeranaias/broadcast-console/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Sessions is the part of session.Manager the UI drives.
type Sessions interface {
	State() session.State
	Subscribe() (<-chan session.State, func())
	Bootstrap(ctx context.Context)
	Login(user session.UserIdentity, token string, expiresAt time.Time) error
	Logout()
	ExtendSession(ctx context.Context) error
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*api.LoginResponse, error)
}

// Options configures the model.
type Options struct {
	Sessions Sessions
	Auth     Authenticator
	Clock    clock.Clock
	Theme    *styles.Theme

	// TestingMode shows the timer notice.
	TestingMode bool

	// RequestTimeout bounds login and extend calls. Zero means 30 seconds.
	RequestTimeout time.Duration
}

// =============================================================================
// MESSAGES
// =============================================================================

type stateMsg session.State

type statesClosedMsg struct{}

type bootstrapDoneMsg struct{}

type loginResultMsg struct{ err error }

type extendResultMsg struct{ err error }

type secondTickMsg time.Time

// =============================================================================
// MODEL
// =============================================================================

// Model is the root model.
type Model struct {
	sessions Sessions
	auth     Authenticator
	clock    clock.Clock
	theme    *styles.Theme
	timeout  time.Duration

	states      <-chan session.State
	unsubscribe func()
	state       session.State

	spinner spinner.Model
	form    components.LoginForm
	dialog  components.ExpiryDialog
	notice  components.TestingNotice

	keys   keyMap
	width  int
	height int
}

type keyMap struct {
	Quit   key.Binding
	ForceQ key.Binding
	Logout key.Binding
	Extend key.Binding
}

// New creates the model and subscribes to session state. Call Close when the
// program exits.
func New(opts Options) *Model {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	sp := spinner.New()
	sp.Spinner = styles.LoadingSpinner
	sp.Style = lipgloss.NewStyle().Foreground(styles.Cyan)

	states, unsubscribe := opts.Sessions.Subscribe()
	return &Model{
		sessions:    opts.Sessions,
		auth:        opts.Auth,
		clock:       opts.Clock,
		theme:       opts.Theme,
		timeout:     opts.RequestTimeout,
		states:      states,
		unsubscribe: unsubscribe,
		state:       opts.Sessions.State(),
		spinner:     sp,
		form:        components.NewLoginForm(opts.Theme),
		dialog:      components.NewExpiryDialog(opts.Theme),
		notice:      components.NewTestingNotice(opts.Theme, opts.TestingMode),
		keys: keyMap{
			Quit:   key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
			ForceQ: key.NewBinding(key.WithKeys("ctrl+c")),
			Logout: key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "sign out")),
			Extend: key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "extend")),
		},
	}
}

// Close releases the state subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// State returns the last state the model rendered.
func (m *Model) State() session.State { return m.state }

// Init starts bootstrap and the state bridge.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForState(),
		m.bootstrap(),
		m.form.Init(),
		everySecond(),
	)
}

func (m *Model) waitForState() tea.Cmd {
	ch := m.states
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return statesClosedMsg{}
		}
		return stateMsg(st)
	}
}

func (m *Model) bootstrap() tea.Cmd {
	s := m.sessions
	return func() tea.Msg {
		s.Bootstrap(context.Background())
		return bootstrapDoneMsg{}
	}
}

func everySecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return secondTickMsg(t) })
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.theme.SetSize(msg.Width, msg.Height)
		m.dialog.SetSize(msg.Width, msg.Height-2)
		return m, nil

	case stateMsg:
		cmd := m.applyState(session.State(msg))
		return m, tea.Batch(cmd, m.waitForState())

	case statesClosedMsg:
		return m, tea.Quit

	case bootstrapDoneMsg:
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case secondTickMsg:
		m.notice.Set(m.state.WarningAt, m.state.ExpiresAt, m.clock.Now())
		return m, everySecond()

	case components.LoginSubmitMsg:
		return m, m.login(msg.Username, msg.Password)

	case loginResultMsg:
		if msg.err != nil {
			m.form.SetError(loginErrorText(msg.err))
			return m, nil
		}
		m.form.SetNotice("")
		m.form.Reset()
		return m, nil

	case components.ExtendRequestedMsg:
		return m, m.extend()

	case extendResultMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, session.ErrSessionChanged):
			m.dialog.Close()
		default:
			m.dialog.ExtensionFailed(msg.err)
		}
		return m, nil

	case components.LogoutRequestedMsg:
		m.dialog.Close()
		m.sessions.Logout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.forward(msg)
}

// applyState records st and reacts to the transitions that change the screen.
func (m *Model) applyState(st session.State) tea.Cmd {
	prev := m.state
	m.state = st
	m.notice.Set(st.WarningAt, st.ExpiresAt, m.clock.Now())

	var cmds []tea.Cmd
	if st.Loading && !prev.Loading {
		cmds = append(cmds, m.spinner.Tick)
	}

	switch {
	case st.User == nil:
		m.dialog.Close()
		if prev.User != nil || (prev.Loading && !st.Loading) {
			m.form.SetNotice(st.LastLogoutReason.Message())
			m.form.Reset()
		}
	case st.SessionExpiring && !m.dialog.Visible():
		cmds = append(cmds, m.dialog.Open(st.Remaining(m.clock.Now())))
	case !st.SessionExpiring && m.dialog.Visible():
		m.dialog.Close()
	}
	return tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQ) {
		return m, tea.Quit
	}

	switch {
	case m.state.Loading:
		return m, nil
	case m.state.User == nil:
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd
	case m.dialog.Visible():
		var cmd tea.Cmd
		m.dialog, cmd = m.dialog.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Logout):
		m.sessions.Logout()
	case key.Matches(msg, m.keys.Extend):
		return m, m.extend()
	}
	return m, nil
}

// forward passes everything else to the visible component.
func (m *Model) forward(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case m.state.Loading:
	case m.state.User == nil:
		m.form, cmd = m.form.Update(msg)
	default:
		m.dialog, cmd = m.dialog.Update(msg)
	}
	return m, cmd
}

func (m *Model) login(username, password string) tea.Cmd {
	auth, sessions, timeout := m.auth, m.sessions, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := auth.Login(ctx, username, password)
		if err != nil {
			return loginResultMsg{err: err}
		}
		name := resp.Username
		if name == "" {
			name = username
		}
		err = sessions.Login(session.UserIdentity{Username: name}, resp.BearerToken(), resp.ExpiresAt.Time)
		return loginResultMsg{err: err}
	}
}

func (m *Model) extend() tea.Cmd {
	sessions, timeout := m.sessions, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := sessions.ExtendSession(ctx)
		if err != nil {
			log.WithError(err).Info("session extension failed")
		}
		return extendResultMsg{err: err}
	}
}

func loginErrorText(err error) string {
	var httpErr *api.HTTPError
	switch {
	case errors.As(err, &httpErr) && (httpErr.StatusCode == 400 || httpErr.StatusCode == 401):
		return "Invalid username or password."
	case errors.Is(err, context.DeadlineExceeded):
		return "The server did not respond. Try again."
	case errors.Is(err, api.ErrMalformedResponse):
		return "The server sent an unexpected response."
	default:
		return "Sign in failed: " + err.Error()
	}
}
