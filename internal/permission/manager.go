// Package permission owns the notification permission state machine and the
// device token lifecycle: acquisition, freshness, the single forced
// re-registration retry, and sign-out invalidation.
package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/agent"
	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/protocol"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// State is the process-wide permission value.
type State string

const (
	StateDefault     State = "default"
	StateGranted     State = "granted"
	StateDenied      State = "denied"
	StateUnsupported State = "unsupported"
)

const (
	defaultScriptURL      = "/firebase-messaging-sw.js"
	defaultActivationWait = 10 * time.Second
	defaultTokenMaxAge    = 48 * time.Hour

	installGuidance = "add this dashboard to your home screen, then open it from there to enable notifications"
)

// Prompter is the platform permission prompt.
type Prompter interface {
	Current() State
	Request(ctx context.Context) (State, error)
}

// Registrar manages agent registrations for the origin. *agent.Host satisfies it.
type Registrar interface {
	Register(ctx context.Context, scriptURL string) (*agent.Registration, error)
	Registrations() []*agent.Registration
	Unregister(ctx context.Context, reg *agent.Registration) error
}

// TokenSource mints a device token from the push transport.
type TokenSource interface {
	Token(ctx context.Context, serverKey string, reg *agent.Registration) (string, error)
}

// Mirror keeps the backend user record in sync with the device token.
type Mirror interface {
	Upsert(ctx context.Context, tok localstate.DeviceToken) error
	Remove(ctx context.Context, token string) error
}

// Result is what RequestPermission reports to the page.
type Result struct {
	Granted  bool
	Status   State
	Guidance string
	Token    *localstate.DeviceToken
}

// Params configure the manager.
type Params struct {
	Origin         string
	ScriptURL      string
	ServerKey      string
	Capabilities   func() capability.Set
	Prompter       Prompter
	Registrar      Registrar
	Tokens         TokenSource
	State          *localstate.Store
	Mirror         Mirror
	SignedIn       func() bool
	Agent          *protocol.Port
	Lock           *RegistrationLock
	Toaster        notify.Toaster
	ActivationWait time.Duration
	TokenMaxAge    time.Duration
	Logger         *logger.Logger
	Now            func() time.Time
}

type Manager struct {
	origin         string
	scriptURL      string
	serverKey      string
	caps           func() capability.Set
	prompter       Prompter
	registrar      Registrar
	tokens         TokenSource
	local          *localstate.Store
	mirror         Mirror
	signedIn       func() bool
	agentPort      *protocol.Port
	lock           *RegistrationLock
	toaster        notify.Toaster
	activationWait time.Duration
	tokenMaxAge    time.Duration
	logg           *logger.Logger
	now            func() time.Time

	mu    sync.RWMutex
	state State

	// acquireMu makes concurrent acquisitions wait for the one in flight.
	acquireMu sync.Mutex
}

func NewManager(params Params) (*Manager, error) {
	if params.Prompter == nil {
		return nil, fmt.Errorf("prompter required")
	}
	if params.Registrar == nil {
		return nil, fmt.Errorf("registrar required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token source required")
	}
	if params.State == nil {
		return nil, fmt.Errorf("local state required")
	}
	m := &Manager{
		origin:         params.Origin,
		scriptURL:      params.ScriptURL,
		serverKey:      params.ServerKey,
		caps:           params.Capabilities,
		prompter:       params.Prompter,
		registrar:      params.Registrar,
		tokens:         params.Tokens,
		local:          params.State,
		mirror:         params.Mirror,
		signedIn:       params.SignedIn,
		agentPort:      params.Agent,
		lock:           params.Lock,
		toaster:        params.Toaster,
		activationWait: params.ActivationWait,
		tokenMaxAge:    params.TokenMaxAge,
		logg:           params.Logger,
		now:            params.Now,
	}
	if m.scriptURL == "" {
		m.scriptURL = defaultScriptURL
	}
	if m.caps == nil {
		m.caps = func() capability.Set { return capability.Set{} }
	}
	if m.activationWait <= 0 {
		m.activationWait = defaultActivationWait
	}
	if m.tokenMaxAge <= 0 {
		m.tokenMaxAge = defaultTokenMaxAge
	}
	if m.logg == nil {
		m.logg = logger.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.lock == nil {
		m.lock = NewRegistrationLock(nil, 0, m.logg)
	}
	m.state = params.Prompter.Current()
	if m.state == "" {
		m.state = StateDefault
	}
	if !m.caps().NotificationsSupported {
		m.state = StateUnsupported
	}
	return m, nil
}

// State returns the current permission value.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// RequestPermission runs the user-triggered permission flow. It never prompts
// when the platform cannot deliver notifications or needs a home-screen
// install first, and never re-prompts after a denial.
func (m *Manager) RequestPermission(ctx context.Context) (Result, error) {
	caps := m.caps()
	ctx = m.logg.WithField(ctx, "platform", caps.Platform.String())

	if !caps.NotificationsSupported {
		m.setState(StateUnsupported)
		err := errors.New(errors.CodeUnsupported, "notifications are not supported on this platform")
		return Result{Status: StateUnsupported, Guidance: errors.Guidance(err)}, err
	}
	if caps.RequiresInstall && !caps.Installed {
		err := errors.New(errors.CodeUnsupported, "home screen install required").
			WithDetails(map[string]any{"guidance": installGuidance})
		return Result{Status: m.State(), Guidance: installGuidance}, err
	}

	switch m.State() {
	case StateDenied:
		err := errors.New(errors.CodePermissionDenied, "notification permission was denied")
		return Result{Status: StateDenied, Guidance: errors.Guidance(err)}, err
	case StateGranted:
	default:
		next, err := m.prompter.Request(ctx)
		if err != nil {
			m.logg.Warn(ctx, fmt.Sprintf("permission prompt failed: %v", err))
			next = StateDefault
		}
		if next == "" {
			next = StateDefault
		}
		m.setState(next)
		if next == StateDenied {
			err := errors.New(errors.CodePermissionDenied, "user declined notifications")
			return Result{Status: StateDenied, Guidance: errors.Guidance(err)}, err
		}
		if next != StateGranted {
			return Result{Status: next}, nil
		}
	}

	tok, err := m.acquire(ctx)
	if err != nil {
		return Result{Granted: true, Status: StateGranted, Guidance: errors.Guidance(err)}, err
	}
	return Result{Granted: true, Status: StateGranted, Token: tok}, nil
}

// RefreshIfNeeded returns the cached token while fresh and re-acquires it
// otherwise. Without a granted permission it returns nil.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (*localstate.DeviceToken, error) {
	if m.State() != StateGranted {
		return nil, nil
	}
	tok, err := m.local.DeviceToken(ctx)
	if err != nil {
		m.logg.Warn(ctx, fmt.Sprintf("read cached token: %v", err))
	}
	if tok != nil && tok.IsFresh(m.now(), m.tokenMaxAge) {
		return tok, nil
	}
	return m.acquire(ctx)
}

// SignOut invalidates the device token locally and on the backend record.
func (m *Manager) SignOut(ctx context.Context) error {
	tok, err := m.local.DeviceToken(ctx)
	if err != nil {
		m.logg.Warn(ctx, fmt.Sprintf("read cached token: %v", err))
	}
	if err := m.local.DeleteDeviceToken(ctx); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "delete device token")
	}
	if tok != nil && m.mirror != nil && m.isSignedIn() {
		if err := m.mirror.Remove(ctx, tok.Value); err != nil {
			m.logg.Warn(ctx, fmt.Sprintf("remove token from backend record: %v", err))
		}
	}
	m.agentPort.Post(protocol.TokenRemoved())
	return nil
}

func (m *Manager) isSignedIn() bool {
	return m.signedIn != nil && m.signedIn()
}

// acquire obtains a token with at most one forced re-registration retry.
func (m *Manager) acquire(ctx context.Context) (*localstate.DeviceToken, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	failed, value, err := m.attempt(ctx)
	if err != nil {
		m.logg.Warn(ctx, fmt.Sprintf("token acquisition failed, forcing agent re-registration: %v", err))
		value, err = m.retryWithCleanRegistration(ctx, failed)
	}
	if err != nil {
		failure := errors.Wrap(errors.CodeAcquisitionFailed, err, "no device token after re-registration")
		m.logg.Error(ctx, "token acquisition failed", failure)
		m.notifyDegraded(ctx, failure)
		return nil, failure
	}

	tok := localstate.DeviceToken{
		Value:       value,
		ObtainedAt:  m.now().UTC(),
		PlatformTag: m.caps().Platform.String(),
	}
	if err := m.local.SaveDeviceToken(ctx, tok); err != nil {
		m.logg.Warn(ctx, fmt.Sprintf("persist device token: %v", err))
	}
	if m.mirror != nil && m.isSignedIn() {
		if err := m.mirror.Upsert(ctx, tok); err != nil {
			m.logg.Warn(ctx, fmt.Sprintf("mirror device token: %v", err))
		}
	}
	m.agentPort.Post(protocol.TokenObtained(tok.Value))
	return &tok, nil
}

// attempt returns the registration it tried, even when the token failed.
func (m *Manager) attempt(ctx context.Context) (*agent.Registration, string, error) {
	reg, err := m.ensureAgent(ctx)
	if err != nil {
		return nil, "", err
	}
	value, err := m.tokens.Token(ctx, m.serverKey, reg)
	return reg, value, err
}

// retryWithCleanRegistration runs under the origin's registration lock. When
// another tab already replaced the registration that failed, the token is
// retried against that one; otherwise every registration of the origin is
// unregistered and the agent registered anew.
func (m *Manager) retryWithCleanRegistration(ctx context.Context, failed *agent.Registration) (string, error) {
	release, err := m.lock.Acquire(ctx, m.origin)
	if err != nil {
		return "", err
	}
	defer release()

	if fresh := m.replacement(failed); fresh != nil {
		m.logg.Info(ctx, fmt.Sprintf("registration %s already replaced by %s, reusing it", registrationID(failed), fresh.ID()))
		return m.tokens.Token(ctx, m.serverKey, fresh)
	}
	for _, reg := range m.registrar.Registrations() {
		if err := m.registrar.Unregister(ctx, reg); err != nil {
			m.logg.Warn(ctx, fmt.Sprintf("unregister %s: %v", reg.ScriptURL(), err))
		}
	}
	_, value, err := m.attempt(ctx)
	return value, err
}

// replacement finds an activated registration for our script other than failed.
func (m *Manager) replacement(failed *agent.Registration) *agent.Registration {
	for _, reg := range m.registrar.Registrations() {
		if reg == failed || reg.ScriptURL() != m.scriptURL {
			continue
		}
		select {
		case <-reg.Activated():
			return reg
		default:
		}
	}
	return nil
}

func registrationID(reg *agent.Registration) string {
	if reg == nil {
		return "none"
	}
	return reg.ID()
}

// ensureAgent registers the agent when missing and waits for activation.
func (m *Manager) ensureAgent(ctx context.Context) (*agent.Registration, error) {
	var reg *agent.Registration
	for _, existing := range m.registrar.Registrations() {
		if existing.ScriptURL() == m.scriptURL {
			reg = existing
			break
		}
	}
	if reg == nil {
		var err error
		reg, err = m.registrar.Register(ctx, m.scriptURL)
		if err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}

	timer := time.NewTimer(m.activationWait)
	defer timer.Stop()
	select {
	case <-reg.Activated():
		return reg, nil
	case <-timer.C:
		return nil, fmt.Errorf("agent not active after %s", m.activationWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) notifyDegraded(ctx context.Context, err error) {
	if m.toaster == nil {
		return
	}
	if toastErr := m.toaster.Toast(ctx, notify.Toast{Title: "Notifications limited", Body: errors.Guidance(err)}); toastErr != nil {
		m.logg.Warn(ctx, fmt.Sprintf("degraded-mode notice: %v", toastErr))
	}
}
