// Package page is the facade page code talks to: permission, notifications,
// alert listeners, timers and visibility handling for one open page.
package page

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/alerts"
	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deferred"
	"github.com/angelmondragon/confops/internal/foreground"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/permission"
	"github.com/angelmondragon/confops/internal/protocol"
	"github.com/angelmondragon/confops/internal/timers"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// RuntimeParams wire an already assembled set of components.
type RuntimeParams struct {
	Presence     *Presence
	Permission   *permission.Manager
	Guard        *alerts.Guard
	Timers       *timers.Registry
	Deferred     *deferred.Store
	Listener     *foreground.Listener
	Agent        *protocol.Port
	State        *localstate.Store
	Renderer     notify.Renderer
	Toaster      notify.Toaster
	Capabilities func() capability.Set
	OnReload     func(ctx context.Context)
	Logger       *logger.Logger
	Now          func() time.Time
}

type Runtime struct {
	presence   *Presence
	permission *permission.Manager
	guard      *alerts.Guard
	timers     *timers.Registry
	deferred   *deferred.Store
	listener   *foreground.Listener
	agentPort  *protocol.Port
	local      *localstate.Store
	renderer   notify.Renderer
	toaster    notify.Toaster
	caps       func() capability.Set
	onReload   func(ctx context.Context)
	logg       *logger.Logger
	now        func() time.Time
	router     *protocol.Router

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastPong time.Time
}

func New(params RuntimeParams) (*Runtime, error) {
	switch {
	case params.Presence == nil:
		return nil, fmt.Errorf("presence required")
	case params.Permission == nil:
		return nil, fmt.Errorf("permission manager required")
	case params.Guard == nil:
		return nil, fmt.Errorf("alert guard required")
	case params.Timers == nil:
		return nil, fmt.Errorf("timer registry required")
	case params.Deferred == nil:
		return nil, fmt.Errorf("deferred store required")
	case params.Toaster == nil:
		return nil, fmt.Errorf("toaster required")
	}
	r := &Runtime{
		presence:   params.Presence,
		permission: params.Permission,
		guard:      params.Guard,
		timers:     params.Timers,
		deferred:   params.Deferred,
		listener:   params.Listener,
		agentPort:  params.Agent,
		local:      params.State,
		renderer:   params.Renderer,
		toaster:    params.Toaster,
		caps:       params.Capabilities,
		onReload:   params.OnReload,
		logg:       params.Logger,
		now:        params.Now,
		router:     protocol.NewRouter(),
	}
	if r.caps == nil {
		r.caps = func() capability.Set { return capability.Set{} }
	}
	if r.logg == nil {
		r.logg = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.routes()
	return r, nil
}

// Start restores the role, replays deferred notifications once, starts the
// timer and agent message loops. It is safe to call once.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.mu.Unlock()

	if r.local != nil && r.presence.Role() == "" {
		if role, err := r.local.UserRole(ctx); err == nil && role != "" {
			r.presence.SetRole(role)
		}
	}
	if r.presence.Visible() {
		if _, err := r.deferred.FlushPending(ctx); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("startup flush: %v", err))
		}
	}
	if err := r.timers.Listen(ctx); err != nil {
		r.logg.Warn(ctx, fmt.Sprintf("timer sync unavailable: %v", err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.timers.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			r.logg.Error(loopCtx, "timer loop stopped", err)
		}
	}()
	if r.agentPort != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.router.Serve(loopCtx, r.agentPort.Receive())
		}()
		if role := r.presence.Role(); role != "" {
			r.agentPort.Post(protocol.SetUserRole(role))
		}
	}
	return nil
}

// Close stops the loops and detaches every subscription.
func (r *Runtime) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.started = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.guard.Close()
	r.timers.Close()
	r.wg.Wait()
}

func (r *Runtime) RequestPermission(ctx context.Context) (permission.Result, error) {
	return r.permission.RequestPermission(ctx)
}

func (r *Runtime) RefreshIfNeeded(ctx context.Context) (*localstate.DeviceToken, error) {
	return r.permission.RefreshIfNeeded(ctx)
}

// ShowNotification renders natively when permitted and falls back to a toast.
// It reports whether the native notification was shown.
func (r *Runtime) ShowNotification(ctx context.Context, title string, opts notify.Options) bool {
	caps := r.caps()
	if r.permission.State() != permission.StateGranted || caps.Missing(capability.Notifications) {
		if err := r.toaster.Toast(ctx, notify.Toast{Title: title, Body: opts.Body, URL: opts.URL(), Urgent: opts.RequireInteraction}); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("toast failed: %v", err))
		}
		return false
	}
	rendered, err := notify.ShowWithFallback(ctx, r.renderer, r.toaster, title, opts)
	if err != nil {
		r.logg.Warn(ctx, err.Error())
	}
	return rendered
}

func (r *Runtime) InitializeAlertListeners(ctx context.Context) error {
	return r.guard.Initialize(ctx)
}

func (r *Runtime) AreAlertListenersActive(ctx context.Context) bool {
	return r.guard.Active(ctx)
}

func (r *Runtime) ReinitializeAlertListeners(ctx context.Context) error {
	return r.guard.Reinitialize(ctx)
}

// Timers exposes the timer controls.
func (r *Runtime) Timers() *timers.Registry {
	return r.timers
}

// OnVisible replays deferred notifications and recomputes every timer from
// its wall-clock anchor.
func (r *Runtime) OnVisible(ctx context.Context) (int, error) {
	r.presence.SetVisible(true)
	r.timers.Resume(ctx)
	n, err := r.deferred.FlushPending(ctx)
	if err != nil {
		return n, err
	}
	if !r.guard.Active(ctx) {
		if _, err := r.guard.CheckLiveness(ctx); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("alert liveness on resume: %v", err))
		}
	}
	return n, nil
}

func (r *Runtime) Visible() bool {
	return r.presence.Visible()
}

func (r *Runtime) OnHidden() {
	r.presence.SetVisible(false)
}

// HandleForeground passes a live-channel payload to the foreground listener.
func (r *Runtime) HandleForeground(ctx context.Context, raw []byte) (foreground.Outcome, error) {
	if r.listener == nil {
		return foreground.Outcome{}, errors.New(errors.CodeUnsupported, "foreground delivery not configured")
	}
	return r.listener.HandleRaw(ctx, raw)
}

// SetUserRole records the signed-in role locally and tells the agent.
func (r *Runtime) SetUserRole(ctx context.Context, role string) error {
	parsed, err := enums.ParseRole(role)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "invalid role")
	}
	r.presence.SetRole(parsed.String())
	if r.local != nil {
		if err := r.local.SaveUserRole(ctx, parsed.String()); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("persist role: %v", err))
		}
	}
	r.agentPort.Post(protocol.SetUserRole(parsed.String()))
	return nil
}

func (r *Runtime) Role() string {
	return r.presence.Role()
}

// SignOut invalidates the device token.
func (r *Runtime) SignOut(ctx context.Context) error {
	return r.permission.SignOut(ctx)
}

// Ping asks the agent for a PONG; LastPong reports when one arrived.
func (r *Runtime) Ping() bool {
	return r.agentPort.Post(protocol.Ping())
}

func (r *Runtime) LastPong() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPong
}

// TestNotification asks the agent to render a diagnostic notification.
func (r *Runtime) TestNotification(title, body string, options map[string]any) bool {
	return r.agentPort.Post(protocol.TestNotification(title, body, options))
}

// SkipWaiting asks a waiting agent version to take over now.
func (r *Runtime) SkipWaiting() bool {
	return r.agentPort.Post(protocol.SkipWaiting())
}

func (r *Runtime) routes() {
	r.router.Handle(protocol.TypePong, func(ctx context.Context, env protocol.Envelope) {
		r.mu.Lock()
		r.lastPong = r.now()
		r.mu.Unlock()
	})
	r.router.Handle(protocol.TypeTestNotificationShown, func(ctx context.Context, env protocol.Envelope) {
		r.logg.Info(ctx, "test notification shown")
	})
	r.router.Handle(protocol.TypeTestNotificationError, func(ctx context.Context, env protocol.Envelope) {
		r.logg.Warn(ctx, "test notification failed: "+env.Message.Error)
		_ = r.toaster.Toast(ctx, notify.Toast{Title: "Test notification failed", Body: env.Message.Error})
	})
	r.router.Handle(protocol.TypeReloadPageForUpdate, func(ctx context.Context, env protocol.Envelope) {
		r.logg.Info(ctx, "agent updated, reloading page")
		if r.onReload != nil {
			r.onReload(ctx)
		}
	})
	r.router.Handle(protocol.TypeTokenObtained, func(ctx context.Context, env protocol.Envelope) {
		r.logg.Debug(ctx, "device token obtained by another page")
	})
	r.router.Handle(protocol.TypeTokenRemoved, func(ctx context.Context, env protocol.Envelope) {
		r.logg.Debug(ctx, "device token removed")
	})
	r.router.Handle(protocol.TypeShowToast, r.onAgentToast)
	r.router.Fallback(func(ctx context.Context, env protocol.Envelope) {
		r.logg.Debug(ctx, fmt.Sprintf("page ignoring %s", env.Message.Type))
	})
}

// onAgentToast shows a notification the agent failed to render, or defers it
// while the page is hidden.
func (r *Runtime) onAgentToast(ctx context.Context, env protocol.Envelope) {
	msg := env.Message
	url, _ := msg.Options["url"].(string)
	urgent, _ := msg.Options["urgent"].(bool)
	if !r.presence.Visible() {
		if _, err := r.deferred.Store(ctx, msg.Title, msg.Body, url); err != nil {
			r.logg.Warn(ctx, fmt.Sprintf("defer agent toast: %v", err))
		}
		return
	}
	if err := r.toaster.Toast(ctx, notify.Toast{Title: msg.Title, Body: msg.Body, URL: url, Urgent: urgent}); err != nil {
		r.logg.Warn(ctx, fmt.Sprintf("agent toast failed: %v", err))
	}
}
