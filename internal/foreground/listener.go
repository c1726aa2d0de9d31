// Package foreground handles push payloads that reach a page over the live
// channel. The platform does not render those natively, so the listener does
// it where permitted and always adds an in-page toast.
package foreground

import (
	"context"
	"fmt"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deeplink"
	"github.com/angelmondragon/confops/internal/deferred"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
)

// Outcome reports what Handle did with a payload.
type Outcome struct {
	Target   string
	Rendered bool
	Toasted  bool
	Deferred bool
}

// ListenerParams configure the foreground listener.
type ListenerParams struct {
	Renderer     notify.Renderer
	Toaster      notify.Toaster
	Audio        notify.AudioPlayer
	Deferred     *deferred.Store
	Assets       notify.Assets
	Capabilities func() capability.Set
	Permitted    func() bool
	Visible      func() bool
	Role         func() string
	Logger       *logger.Logger
	Metrics      *metrics.NotificationMetrics
}

type Listener struct {
	renderer  notify.Renderer
	toaster   notify.Toaster
	audio     notify.AudioPlayer
	deferred  *deferred.Store
	assets    notify.Assets
	caps      func() capability.Set
	permitted func() bool
	visible   func() bool
	role      func() string
	logg      *logger.Logger
	metrics   *metrics.NotificationMetrics
}

func NewListener(params ListenerParams) (*Listener, error) {
	if params.Toaster == nil {
		return nil, fmt.Errorf("toaster required")
	}
	l := &Listener{
		renderer:  params.Renderer,
		toaster:   params.Toaster,
		audio:     params.Audio,
		deferred:  params.Deferred,
		assets:    params.Assets,
		caps:      params.Capabilities,
		permitted: params.Permitted,
		visible:   params.Visible,
		role:      params.Role,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}
	if l.caps == nil {
		l.caps = func() capability.Set { return capability.Set{} }
	}
	if l.permitted == nil {
		l.permitted = func() bool { return false }
	}
	if l.visible == nil {
		l.visible = func() bool { return true }
	}
	if l.role == nil {
		l.role = func() string { return "" }
	}
	if l.logg == nil {
		l.logg = logger.Nop()
	}
	return l, nil
}

// HandleRaw decodes and handles a wire payload.
func (l *Listener) HandleRaw(ctx context.Context, raw []byte) (Outcome, error) {
	p, err := notify.DecodePayload(raw)
	if err != nil {
		return Outcome{}, errors.Wrap(errors.CodeValidation, err, "invalid foreground payload")
	}
	return l.Handle(ctx, p), nil
}

// Handle renders p natively where permitted and toasts it. A payload that
// reaches a hidden page on a platform without reliable rendering is deferred.
func (l *Listener) Handle(ctx context.Context, p notify.Payload) Outcome {
	caps := l.caps()
	target := deeplink.Resolve(p.Link(l.role()))
	out := Outcome{Target: target}
	ctx = l.logg.WithField(ctx, "target", target)

	if caps.NeedsDeferral() && !l.visible() {
		out.Deferred = l.deferPayload(ctx, p, target)
		return out
	}

	if l.renderer != nil && l.permitted() && caps.Has(capability.Notifications) && !caps.NeedsDeferral() {
		opts := notify.BuildOptions(notify.Params{
			Body:         p.Body,
			Tag:          p.Tag(),
			URL:          target,
			Data:         p.DataMap(),
			Urgent:       p.Urgent(),
			Capabilities: caps,
			Assets:       l.assets,
		})
		if err := l.renderer.Show(ctx, p.Title, opts); err != nil {
			l.logg.Warn(ctx, errors.Wrap(errors.CodeDeliveryRenderFailed, err, "render foreground notification").Error())
			l.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeFailed)
		} else {
			out.Rendered = true
			l.metrics.IncDelivery(metrics.ChannelNative, metrics.OutcomeDelivered)
		}
	}

	if err := l.toaster.Toast(ctx, notify.Toast{Title: p.Title, Body: p.Body, URL: target, Urgent: p.Urgent()}); err != nil {
		l.logg.Warn(ctx, fmt.Sprintf("foreground toast failed: %v", err))
		l.metrics.IncDelivery(metrics.ChannelToast, metrics.OutcomeFailed)
	} else {
		out.Toasted = true
		l.metrics.IncDelivery(metrics.ChannelToast, metrics.OutcomeDelivered)
	}

	if !out.Rendered && !out.Toasted {
		out.Deferred = l.deferPayload(ctx, p, target)
		return out
	}
	notify.PlayCue(ctx, l.audio, l.assets.Sound, l.logg)
	return out
}

func (l *Listener) deferPayload(ctx context.Context, p notify.Payload, target string) bool {
	if l.deferred == nil {
		l.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeSkipped)
		return false
	}
	if _, err := l.deferred.Store(ctx, p.Title, p.Body, target); err != nil {
		l.logg.Error(ctx, "defer foreground payload", err)
		l.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeFailed)
		return false
	}
	l.metrics.IncDelivery(metrics.ChannelDeferred, metrics.OutcomeDelivered)
	return true
}
