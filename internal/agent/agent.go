// Package agent models the detached background context as an actor: each
// version installs, activates and then serves pushes, clicks and page messages
// from its own goroutine. Pages talk to it only through protocol messages.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deeplink"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/protocol"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
)

// Phase is the lifecycle position of one agent version.
type Phase string

const (
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActivating Phase = "activating"
	PhaseActivated  Phase = "activated"
	PhaseRedundant  Phase = "redundant"
)

const (
	defaultSettleDelay = 100 * time.Millisecond
	defaultCueTimeout  = 3 * time.Second
	eventBuffer        = 16
)

// Window is an open page as seen from the agent.
type Window struct {
	ID        string
	URL       string
	Focused   bool
	Focusable bool
}

// Windows gives the agent control over open pages.
type Windows interface {
	List(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, id string) error
	Navigate(ctx context.Context, id, url string) error
	Open(ctx context.Context, url string) error
}

// Clients is the agent's view of its host: connected pages and the
// registration lifecycle.
type Clients interface {
	PostTo(id string, msg protocol.Message) bool
	Broadcast(msg protocol.Message) int
	Claim(a *Agent) int
	SkipWaiting(ctx context.Context) bool
}

// Closer is implemented by renderers that can dismiss a shown notification.
type Closer interface {
	Close(ctx context.Context, tag string) error
}

// Click is a notification click as reported by the platform.
type Click struct {
	Tag  string
	Data map[string]any
}

type event struct {
	push  *notify.Payload
	click *Click
	done  chan error
}

// Params configure one agent version.
type Params struct {
	Version      int
	Origin       string
	Cache        Cache
	Assets       notify.Assets
	Renderer     notify.Renderer
	Audio        notify.AudioPlayer
	Windows      Windows
	Clients      Clients
	State        *localstate.Store
	Capabilities func() capability.Set
	SettleDelay  time.Duration
	CueTimeout   time.Duration
	Logger       *logger.Logger
	Metrics      *metrics.NotificationMetrics
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Agent is one installed version of the background context.
type Agent struct {
	version     int
	generation  string
	origin      string
	cache       Cache
	assets      notify.Assets
	renderer    notify.Renderer
	audio       notify.AudioPlayer
	windows     Windows
	clients     Clients
	state       *localstate.Store
	caps        func() capability.Set
	settleDelay time.Duration
	cueTimeout  time.Duration
	logg        *logger.Logger
	metrics     *metrics.NotificationMetrics
	sleep       func(ctx context.Context, d time.Duration) error
	router      *protocol.Router
	events      chan event

	mu     sync.Mutex
	phase  Phase
	role   string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(params Params) (*Agent, error) {
	if params.Cache == nil {
		return nil, fmt.Errorf("asset cache required")
	}
	if params.Renderer == nil {
		return nil, fmt.Errorf("renderer required")
	}
	if params.Windows == nil || params.Clients == nil {
		return nil, fmt.Errorf("windows and clients required")
	}
	a := &Agent{
		version:     params.Version,
		generation:  generationName(params.Version),
		origin:      strings.TrimRight(params.Origin, "/"),
		cache:       params.Cache,
		assets:      params.Assets,
		renderer:    params.Renderer,
		audio:       params.Audio,
		windows:     params.Windows,
		clients:     params.Clients,
		state:       params.State,
		caps:        params.Capabilities,
		settleDelay: params.SettleDelay,
		cueTimeout:  params.CueTimeout,
		logg:        params.Logger,
		metrics:     params.Metrics,
		sleep:       params.Sleep,
		router:      protocol.NewRouter(),
		events:      make(chan event, eventBuffer),
		phase:       PhaseInstalling,
	}
	if a.settleDelay <= 0 {
		a.settleDelay = defaultSettleDelay
	}
	if a.cueTimeout <= 0 {
		a.cueTimeout = defaultCueTimeout
	}
	if a.logg == nil {
		a.logg = logger.Nop()
	}
	if a.caps == nil {
		a.caps = func() capability.Set { return capability.Set{} }
	}
	if a.sleep == nil {
		a.sleep = sleepCtx
	}
	a.routes()
	return a, nil
}

func (a *Agent) Version() int { return a.version }

func (a *Agent) Generation() string { return a.generation }

func (a *Agent) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Role is the last role a page reported.
func (a *Agent) Role() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// install pre-warms the asset cache for this generation. Cache failures are
// logged; the agent can still render without cached assets.
func (a *Agent) install(ctx context.Context) error {
	a.setPhase(PhaseInstalling)
	urls := []string{a.assets.Icon, a.assets.Badge, a.assets.Sound}
	if err := a.cache.Put(ctx, a.generation, urls...); err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("pre-warm %s failed: %v", a.generation, err))
	}
	if a.state != nil {
		if role, err := a.state.UserRole(ctx); err == nil && role != "" {
			a.mu.Lock()
			a.role = role
			a.mu.Unlock()
		}
	}
	a.setPhase(PhaseInstalled)
	a.logg.Info(ctx, fmt.Sprintf("agent %s installed", a.generation))
	return nil
}

// activate claims every open page and purges older cache generations.
func (a *Agent) activate(ctx context.Context) int {
	a.setPhase(PhaseActivating)
	claimed := a.clients.Claim(a)
	generations, err := a.cache.Generations(ctx)
	if err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("list cache generations: %v", err))
	}
	for _, g := range generations {
		if g == a.generation {
			continue
		}
		if err := a.cache.Delete(ctx, g); err != nil {
			a.logg.Warn(ctx, fmt.Sprintf("purge %s: %v", g, err))
		}
	}
	a.setPhase(PhaseActivated)
	a.logg.Info(ctx, fmt.Sprintf("agent %s activated, claimed %d pages", a.generation, claimed))
	return claimed
}

// start runs the mailbox loop until stop is called.
func (a *Agent) start(inbox <-chan protocol.Envelope) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()
	go func() {
		defer close(done)
		a.run(ctx, inbox)
	}()
}

func (a *Agent) run(ctx context.Context, inbox <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			a.router.Dispatch(ctx, env)
		case evt := <-a.events:
			var err error
			switch {
			case evt.push != nil:
				err = a.handlePush(ctx, *evt.push)
			case evt.click != nil:
				err = a.handleClick(ctx, *evt.click)
			}
			evt.done <- err
		}
	}
}

// halt ends the mailbox loop. It must not be called from the loop itself.
func (a *Agent) halt() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// stop halts the agent and marks it redundant.
func (a *Agent) stop() {
	a.halt()
	a.setPhase(PhaseRedundant)
}

func (a *Agent) submit(ctx context.Context, evt event) error {
	a.mu.Lock()
	running, stopped := a.cancel != nil, a.done
	a.mu.Unlock()
	if !running {
		return errors.New(errors.CodeDependency, "agent "+a.generation+" is not running")
	}
	evt.done = make(chan error, 1)
	select {
	case a.events <- evt:
	case <-stopped:
		return errors.New(errors.CodeDependency, "agent "+a.generation+" stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-evt.done:
		return err
	case <-stopped:
		return errors.New(errors.CodeDependency, "agent "+a.generation+" stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) handlePush(ctx context.Context, p notify.Payload) error {
	caps := a.caps()
	target := deeplink.Resolve(p.Link(a.Role()))
	opts := notify.BuildOptions(notify.Params{
		Body:         p.Body,
		Tag:          p.Tag(),
		URL:          target,
		Data:         p.DataMap(),
		Urgent:       p.Urgent(),
		Capabilities: caps,
		Assets:       a.assets,
	})
	ctx = a.logg.WithField(ctx, "target", target)

	if err := a.renderer.Show(ctx, p.Title, opts); err != nil {
		a.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeFailed)
		a.toastFallback(ctx, p.Title, opts)
		return errors.Wrap(errors.CodeDeliveryRenderFailed, err, "render push notification")
	}
	a.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeDelivered)
	a.playCachedCue(ctx)
	return nil
}

// toastFallback hands a notification that could not be rendered to every
// connected page, which shows it in-page or defers it until visible.
func (a *Agent) toastFallback(ctx context.Context, title string, opts notify.Options) {
	n := a.clients.Broadcast(protocol.ShowToast(title, opts.Body, opts.URL(), opts.RequireInteraction))
	if n == 0 {
		a.logg.Warn(ctx, "render failed and no page is connected for a toast")
		return
	}
	a.logg.Debug(ctx, fmt.Sprintf("render failed, toast sent to %d pages", n))
}

// playCachedCue starts the cue on its own goroutine, bounded by cueTimeout,
// so a stalled player never holds up the mailbox.
func (a *Agent) playCachedCue(ctx context.Context) {
	if a.audio == nil || a.assets.Sound == "" {
		return
	}
	cached, err := a.cache.Has(ctx, a.generation, a.assets.Sound)
	if err != nil || !cached {
		a.logg.Debug(ctx, "audio cue not cached, skipping")
		return
	}
	go func() {
		cueCtx, cancel := context.WithTimeout(ctx, a.cueTimeout)
		defer cancel()
		notify.PlayCue(cueCtx, a.audio, a.assets.Sound, a.logg)
	}()
}

// handleClick focuses the best matching page and navigates it, or opens a new one.
func (a *Agent) handleClick(ctx context.Context, c Click) error {
	if closer, ok := a.renderer.(Closer); ok && c.Tag != "" {
		if err := closer.Close(ctx, c.Tag); err != nil {
			a.logg.Debug(ctx, fmt.Sprintf("close notification %s: %v", c.Tag, err))
		}
	}

	target := ""
	if v, ok := c.Data["url"].(string); ok {
		target = v
	}
	if target == "" {
		target = deeplink.Resolve(deeplink.Input{LastKnownRole: a.Role()})
	}
	target = deeplink.Absolute(a.origin, target)

	windows, err := a.windows.List(ctx)
	if err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("list windows: %v", err))
	}
	win, exact := pickWindow(windows, target, a.origin)
	if win == nil {
		return a.windows.Open(ctx, target)
	}
	if err := a.windows.Focus(ctx, win.ID); err != nil {
		a.logg.Debug(ctx, fmt.Sprintf("focus %s: %v", win.ID, err))
	}
	if exact {
		return nil
	}
	if err := a.sleep(ctx, a.settleDelay); err != nil {
		return err
	}
	if err := a.windows.Navigate(ctx, win.ID, target); err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("navigate %s failed, opening new page: %v", win.ID, err))
		return a.windows.Open(ctx, target)
	}
	return nil
}

// pickWindow prefers an exact URL match, then a page of this origin, then
// any focusable page.
func pickWindow(windows []Window, target, origin string) (*Window, bool) {
	for i := range windows {
		if windows[i].URL == target {
			return &windows[i], true
		}
	}
	for i := range windows {
		if windows[i].Focusable && origin != "" && strings.HasPrefix(windows[i].URL, origin) {
			return &windows[i], false
		}
	}
	for i := range windows {
		if windows[i].Focusable {
			return &windows[i], false
		}
	}
	return nil, false
}

func (a *Agent) routes() {
	a.router.Handle(protocol.TypePing, func(ctx context.Context, env protocol.Envelope) {
		a.clients.PostTo(env.From, protocol.Pong())
	})
	a.router.Handle(protocol.TypeSetUserRole, a.onSetUserRole)
	a.router.Handle(protocol.TypeTestNotification, a.onTestNotification)
	a.router.Handle(protocol.TypeSkipWaiting, func(ctx context.Context, env protocol.Envelope) {
		if !a.clients.SkipWaiting(ctx) {
			a.logg.Debug(ctx, "skip waiting not applied")
		}
	})
	a.router.Handle(protocol.TypeTokenObtained, a.relay)
	a.router.Handle(protocol.TypeTokenRemoved, a.relay)
	a.router.Fallback(func(ctx context.Context, env protocol.Envelope) {
		a.logg.Debug(ctx, fmt.Sprintf("agent ignoring %s from %s", env.Message.Type, env.From))
	})
}

func (a *Agent) onSetUserRole(ctx context.Context, env protocol.Envelope) {
	role, err := enums.ParseRole(env.Message.Role)
	if err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("ignoring role %q from %s", env.Message.Role, env.From))
		return
	}
	a.mu.Lock()
	a.role = role.String()
	a.mu.Unlock()
	if a.state != nil {
		if err := a.state.SaveUserRole(ctx, role.String()); err != nil {
			a.logg.Warn(ctx, fmt.Sprintf("persist role: %v", err))
		}
	}
}

func (a *Agent) onTestNotification(ctx context.Context, env protocol.Envelope) {
	msg := env.Message
	title := notify.FirstNonEmpty(msg.Title, "Test notification")
	opts := notify.FromMap(msg.Body, msg.Options)
	if opts.Icon == "" {
		opts.Icon = a.assets.Icon
	}
	if opts.Badge == "" {
		opts.Badge = a.assets.Badge
	}
	if opts.Tag == "" {
		opts.Tag = "test-notification"
	}
	if err := a.renderer.Show(ctx, title, opts); err != nil {
		a.logg.Warn(ctx, fmt.Sprintf("test notification failed: %v", err))
		a.clients.PostTo(env.From, protocol.TestNotificationError(err))
		return
	}
	a.clients.PostTo(env.From, protocol.TestNotificationShown())
}

func (a *Agent) relay(ctx context.Context, env protocol.Envelope) {
	n := a.clients.Broadcast(env.Message)
	a.logg.Debug(ctx, fmt.Sprintf("relayed %s to %d pages", env.Message.Type, n))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
