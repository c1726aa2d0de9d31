package page

import (
	"context"
	"fmt"

	"github.com/angelmondragon/confops/internal/agent"
	"github.com/angelmondragon/confops/internal/alerts"
	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deferred"
	"github.com/angelmondragon/confops/internal/foreground"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/permission"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/internal/timers"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
)

const stateScope = "device"

// AssembleParams are the platform collaborators of one page.
type AssembleParams struct {
	ID        string
	URL       string
	Config    *config.Config
	Store     realtime.Store
	KV        localstate.KV
	Host      *agent.Host
	Navigator agent.Navigator
	Renderer  notify.Renderer
	Toaster   notify.Toaster
	Audio     notify.AudioPlayer
	Prompter  permission.Prompter
	Tokens    permission.TokenSource
	Mirror    permission.Mirror
	SignedIn  func() bool
	LockStore permission.LockStore
	Signals   func() capability.Signals
	OnReload  func(ctx context.Context)
	Logger    *logger.Logger
	Metrics   *metrics.NotificationMetrics
}

// Assemble builds a Runtime from configuration. The returned runtime is not
// started.
func Assemble(ctx context.Context, p AssembleParams) (*Runtime, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.Host == nil {
		return nil, fmt.Errorf("agent host required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	cfg := p.Config
	ctx = p.Logger.WithOrigin(ctx, cfg.App.Origin)

	local, err := localstate.New(p.KV, stateScope)
	if err != nil {
		return nil, err
	}
	caps := func() capability.Set {
		if p.Signals == nil {
			return capability.Set{}
		}
		return capability.Detect(p.Signals())
	}
	presence := NewPresence(true, "")
	assets := notify.Assets{Icon: cfg.Push.IconPath, Badge: cfg.Push.BadgePath, Sound: cfg.Push.SoundPath}

	store, err := deferred.NewStore(deferred.StoreParams{
		State:      local,
		Toaster:    p.Toaster,
		Audio:      p.Audio,
		Logger:     p.Logger,
		Capacity:   cfg.Deferred.Capacity,
		FlushLimit: cfg.Deferred.FlushLimit,
		SoundSrc:   assets.Sound,
	})
	if err != nil {
		return nil, fmt.Errorf("deferred store: %w", err)
	}

	port := p.Host.Connect(p.ID, p.URL, p.Navigator)

	manager, err := permission.NewManager(permission.Params{
		Origin:         cfg.App.Origin,
		ScriptURL:      cfg.Push.AgentScriptURL,
		ServerKey:      cfg.Push.ServerKey,
		Capabilities:   caps,
		Prompter:       p.Prompter,
		Registrar:      p.Host,
		Tokens:         p.Tokens,
		State:          local,
		Mirror:         p.Mirror,
		SignedIn:       p.SignedIn,
		Agent:          port,
		Lock:           permission.NewRegistrationLock(p.LockStore, 0, p.Logger),
		Toaster:        p.Toaster,
		ActivationWait: cfg.Push.ActivationWait,
		TokenMaxAge:    cfg.Push.TokenMaxAge,
		Logger:         p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("permission manager: %w", err)
	}
	granted := func() bool { return manager.State() == permission.StateGranted }

	guard, err := alerts.NewGuard(alerts.GuardParams{
		Store:            p.Store,
		Collection:       cfg.Alerts.Collection,
		Renderer:         permittedRenderer{next: p.Renderer, granted: granted},
		Toaster:          p.Toaster,
		Audio:            p.Audio,
		Deferred:         store,
		Assets:           assets,
		Capabilities:     caps,
		Visible:          presence.Visible,
		Role:             presence.Role,
		RecencyWindow:    cfg.Alerts.RecencyWindow,
		LivenessInterval: cfg.Alerts.LivenessInterval,
		Logger:           p.Logger,
		Metrics:          p.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("alert guard: %w", err)
	}

	registry, err := timers.NewRegistry(timers.RegistryParams{
		Store:            p.Store,
		Collection:       cfg.Timers.Collection,
		State:            local,
		TickInterval:     cfg.Timers.TickInterval,
		RebroadcastEvery: cfg.Timers.RebroadcastEvery,
		OnComplete: func(s timers.State) {
			label := notify.FirstNonEmpty(s.Label, s.ID)
			_ = p.Toaster.Toast(context.WithoutCancel(ctx), notify.Toast{Title: "Time is up", Body: label, URL: "/timer"})
		},
		Logger: p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("timer registry: %w", err)
	}

	listener, err := foreground.NewListener(foreground.ListenerParams{
		Renderer:     p.Renderer,
		Toaster:      p.Toaster,
		Audio:        p.Audio,
		Deferred:     store,
		Assets:       assets,
		Capabilities: caps,
		Permitted:    granted,
		Visible:      presence.Visible,
		Role:         presence.Role,
		Logger:       p.Logger,
		Metrics:      p.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("foreground listener: %w", err)
	}

	return New(RuntimeParams{
		Presence:     presence,
		Permission:   manager,
		Guard:        guard,
		Timers:       registry,
		Deferred:     store,
		Listener:     listener,
		Agent:        port,
		State:        local,
		Renderer:     p.Renderer,
		Toaster:      p.Toaster,
		Capabilities: caps,
		OnReload:     p.OnReload,
		Logger:       p.Logger,
	})
}

// permittedRenderer refuses to render until permission is granted, so callers
// fall back to toasts.
type permittedRenderer struct {
	next    notify.Renderer
	granted func() bool
}

func (r permittedRenderer) Show(ctx context.Context, title string, opts notify.Options) error {
	if r.next == nil || !r.granted() {
		return fmt.Errorf("notification permission not granted")
	}
	return r.next.Show(ctx, title, opts)
}
