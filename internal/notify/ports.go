package notify

import (
	"context"
	"fmt"

	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"go.uber.org/multierr"
)

// Renderer displays a native notification.
type Renderer interface {
	Show(ctx context.Context, title string, opts Options) error
}

// Toast is an in-page notice.
type Toast struct {
	Title  string
	Body   string
	URL    string
	Urgent bool
}

// Toaster shows in-page toasts.
type Toaster interface {
	Toast(ctx context.Context, toast Toast) error
}

// AudioPlayer plays a short cue.
type AudioPlayer interface {
	Play(ctx context.Context, src string) error
}

// PlayCue plays src and swallows any failure; autoplay restrictions make audio
// unreliable and it must never block the render path.
func PlayCue(ctx context.Context, player AudioPlayer, src string, logg *logger.Logger) {
	if player == nil || src == "" {
		return
	}
	if err := player.Play(ctx, src); err != nil && logg != nil {
		logg.Debug(logg.WithField(ctx, "cue", src), fmt.Sprintf("audio cue suppressed: %v", err))
	}
}

// ShowWithFallback renders through r and falls back to a toast when rendering
// fails. rendered is true only when the native notification was shown.
func ShowWithFallback(ctx context.Context, r Renderer, t Toaster, title string, opts Options) (rendered bool, err error) {
	if r != nil {
		renderErr := r.Show(ctx, title, opts)
		if renderErr == nil {
			return true, nil
		}
		err = errors.Wrap(errors.CodeDeliveryRenderFailed, renderErr, "render notification")
	} else {
		err = errors.New(errors.CodeDeliveryRenderFailed, "no renderer available")
	}
	if t == nil {
		return false, err
	}
	if toastErr := t.Toast(ctx, Toast{Title: title, Body: opts.Body, URL: opts.URL(), Urgent: opts.RequireInteraction}); toastErr != nil {
		return false, multierr.Append(err, toastErr)
	}
	return false, err
}
