// Package alerts holds the process-wide alert replay guard: one subscription
// to the alert stream that announces only genuinely new alerts.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deeplink"
	"github.com/angelmondragon/confops/internal/deferred"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
)

const (
	defaultCollection       = "alerts"
	defaultRecencyWindow    = 30 * time.Second
	defaultLivenessInterval = 60 * time.Second
)

// GuardParams configure the alert guard.
type GuardParams struct {
	Store            realtime.Store
	Collection       string
	Renderer         notify.Renderer
	Toaster          notify.Toaster
	Audio            notify.AudioPlayer
	Deferred         *deferred.Store
	Assets           notify.Assets
	Capabilities     func() capability.Set
	Visible          func() bool
	Role             func() string
	RecencyWindow    time.Duration
	LivenessInterval time.Duration
	Logger           *logger.Logger
	Metrics          *metrics.NotificationMetrics
	Now              func() time.Time
}

// Guard owns the single alert subscription of the process. Initialize is
// idempotent; Reinitialize and Close make teardown explicit.
type Guard struct {
	store            realtime.Store
	collection       string
	renderer         notify.Renderer
	toaster          notify.Toaster
	audio            notify.AudioPlayer
	deferred         *deferred.Store
	assets           notify.Assets
	caps             func() capability.Set
	visible          func() bool
	role             func() string
	recencyWindow    time.Duration
	livenessInterval time.Duration
	logg             *logger.Logger
	metrics          *metrics.NotificationMetrics
	now              func() time.Time

	lifecycle    sync.Mutex
	initialized  bool
	sub          realtime.Subscription
	stopLiveness context.CancelFunc
	livenessDone chan struct{}

	seenMu sync.Mutex
	seen   map[string]time.Time
}

func NewGuard(params GuardParams) (*Guard, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("realtime store required")
	}
	if params.Toaster == nil {
		return nil, fmt.Errorf("toaster required")
	}
	g := &Guard{
		store:            params.Store,
		collection:       params.Collection,
		renderer:         params.Renderer,
		toaster:          params.Toaster,
		audio:            params.Audio,
		deferred:         params.Deferred,
		assets:           params.Assets,
		caps:             params.Capabilities,
		visible:          params.Visible,
		role:             params.Role,
		recencyWindow:    params.RecencyWindow,
		livenessInterval: params.LivenessInterval,
		logg:             params.Logger,
		metrics:          params.Metrics,
		now:              params.Now,
		seen:             make(map[string]time.Time),
	}
	if g.collection == "" {
		g.collection = defaultCollection
	}
	if g.caps == nil {
		g.caps = func() capability.Set { return capability.Set{NotificationsSupported: true} }
	}
	if g.visible == nil {
		g.visible = func() bool { return true }
	}
	if g.role == nil {
		g.role = func() string { return "" }
	}
	if g.recencyWindow <= 0 {
		g.recencyWindow = defaultRecencyWindow
	}
	if g.livenessInterval <= 0 {
		g.livenessInterval = defaultLivenessInterval
	}
	if g.logg == nil {
		g.logg = logger.Nop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Initialize subscribes once and starts the liveness loop. Further calls are no-ops.
func (g *Guard) Initialize(ctx context.Context) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if g.initialized {
		return nil
	}
	if err := g.subscribeLocked(ctx); err != nil {
		return err
	}
	livenessCtx, cancel := context.WithCancel(context.Background())
	g.stopLiveness = cancel
	g.livenessDone = make(chan struct{})
	go g.runLiveness(livenessCtx, g.livenessDone)
	g.initialized = true
	g.logg.Info(g.logg.WithField(ctx, "collection", g.collection), "alert listeners initialized")
	return nil
}

// Active reports whether the guard is initialized and its subscription attached.
func (g *Guard) Active(ctx context.Context) bool {
	g.lifecycle.Lock()
	sub := g.sub
	initialized := g.initialized
	g.lifecycle.Unlock()
	return initialized && sub != nil && sub.Active(ctx)
}

// Reinitialize tears everything down and subscribes again.
func (g *Guard) Reinitialize(ctx context.Context) error {
	g.Close()
	return g.Initialize(ctx)
}

// Close detaches the subscription and stops the liveness loop.
func (g *Guard) Close() {
	g.lifecycle.Lock()
	stop := g.stopLiveness
	done := g.livenessDone
	if g.sub != nil {
		g.sub.Unsubscribe()
		g.sub = nil
	}
	g.stopLiveness = nil
	g.livenessDone = nil
	g.initialized = false
	g.lifecycle.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// CheckLiveness re-subscribes when the subscription silently dropped. It
// reports whether a re-subscription happened.
func (g *Guard) CheckLiveness(ctx context.Context) (bool, error) {
	g.pruneSeen()

	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if !g.initialized {
		return false, nil
	}
	if g.sub != nil && g.sub.Active(ctx) {
		return false, nil
	}
	dropped := errors.New(errors.CodeSubscriptionDropped, "alert subscription inactive")
	g.logg.Warn(g.logg.WithField(ctx, "collection", g.collection), dropped.Error())
	if g.sub != nil {
		g.sub.Unsubscribe()
		g.sub = nil
	}
	if err := g.subscribeLocked(ctx); err != nil {
		return false, err
	}
	g.metrics.IncResubscribe(g.collection)
	return true, nil
}

func (g *Guard) subscribeLocked(ctx context.Context) error {
	// Listener callbacks outlive the caller's context.
	listenCtx := context.WithoutCancel(ctx)
	sub, err := g.store.Subscribe(ctx, g.collection, func(evt realtime.Event) {
		g.handle(listenCtx, evt)
	})
	if err != nil {
		return errors.Wrap(errors.CodeSubscriptionDropped, err, "subscribe to alerts")
	}
	g.sub = sub
	return nil
}

func (g *Guard) runLiveness(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.CheckLiveness(ctx); err != nil {
				g.logg.Error(ctx, "alert resubscribe failed", err)
			}
		}
	}
}

func (g *Guard) handle(ctx context.Context, evt realtime.Event) {
	if evt.Kind != realtime.EventAdded {
		return
	}
	var rec Record
	if err := evt.Decode(&rec); err != nil {
		g.logg.Warn(ctx, fmt.Sprintf("skipping undecodable alert %s: %v", evt.ID, err))
		return
	}
	if rec.ID == "" {
		rec.ID = evt.ID
	}
	now := g.now()
	if now.Sub(rec.Timestamp) >= g.recencyWindow {
		return
	}
	if !g.markSeen(rec.ID, rec.Timestamp) {
		return
	}
	if rec.Role != "" && g.role() != "" && rec.Role != g.role() {
		return
	}
	g.announce(g.logg.WithAlertID(ctx, rec.ID), rec)
}

// markSeen records id as handled. The stamp kept for pruning is the later of
// when the id was last observed and its record timestamp, so a re-added
// record with a newer timestamp cannot outlive its own entry.
func (g *Guard) markSeen(id string, ts time.Time) bool {
	stamp := g.now()
	if ts.After(stamp) {
		stamp = ts
	}
	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	if prev, ok := g.seen[id]; ok {
		if stamp.After(prev) {
			g.seen[id] = stamp
		}
		return false
	}
	g.seen[id] = stamp
	return true
}

// pruneSeen forgets ids not observed within the recency window. A record
// that old can no longer pass the recency gate.
func (g *Guard) pruneSeen() {
	cutoff := g.now().Add(-g.recencyWindow)
	g.seenMu.Lock()
	defer g.seenMu.Unlock()
	for id, stamp := range g.seen {
		if stamp.Before(cutoff) {
			delete(g.seen, id)
		}
	}
}

func (g *Guard) announce(ctx context.Context, rec Record) {
	caps := g.caps()
	visible := g.visible()
	target := deeplink.Resolve(deeplink.Input{Type: rec.Type, AlertID: rec.ID, LastKnownRole: g.role()})
	title := rec.Title()

	if caps.NeedsDeferral() && !visible {
		g.deferAlert(ctx, rec, title, target)
		return
	}

	rendered := false
	if g.renderer != nil && caps.Has(capability.Notifications) && !caps.NeedsDeferral() {
		opts := notify.BuildOptions(notify.Params{
			Body:         rec.Message,
			Tag:          "alert-" + rec.ID,
			URL:          target,
			Data:         map[string]any{"alertId": rec.ID, "type": rec.Type},
			Urgent:       rec.Urgent(),
			Capabilities: caps,
			Assets:       g.assets,
		})
		if err := g.renderer.Show(ctx, title, opts); err != nil {
			g.logg.Warn(ctx, errors.Wrap(errors.CodeDeliveryRenderFailed, err, "render alert").Error())
			g.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeFailed)
		} else {
			rendered = true
			g.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeDelivered)
		}
	}

	toasted := false
	if visible || !rendered {
		if err := g.toaster.Toast(ctx, notify.Toast{Title: title, Body: rec.Message, URL: target, Urgent: rec.Urgent()}); err != nil {
			g.logg.Warn(ctx, fmt.Sprintf("alert toast failed: %v", err))
			g.metrics.IncDelivery(metrics.ChannelToast, metrics.OutcomeFailed)
		} else {
			toasted = true
			g.metrics.IncDelivery(metrics.ChannelToast, metrics.OutcomeDelivered)
		}
	}

	if !rendered && !toasted {
		g.deferAlert(ctx, rec, title, target)
		return
	}
	notify.PlayCue(ctx, g.audio, g.assets.Sound, g.logg)
}

func (g *Guard) deferAlert(ctx context.Context, rec Record, title, target string) {
	if g.deferred == nil {
		g.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeSkipped)
		return
	}
	if _, err := g.deferred.Store(ctx, title, rec.Message, target); err != nil {
		g.logg.Error(ctx, "defer alert", err)
		g.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeFailed)
		return
	}
	g.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeDelivered)
}
