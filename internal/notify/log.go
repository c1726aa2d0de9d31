package notify

import (
	"context"

	"github.com/angelmondragon/confops/pkg/logger"
)

// LogRenderer writes notifications to the structured log. Used by headless hosts.
type LogRenderer struct {
	Logger *logger.Logger
}

func (r LogRenderer) Show(ctx context.Context, title string, opts Options) error {
	r.Logger.Info(r.Logger.WithFields(ctx, map[string]any{
		"title":   title,
		"body":    opts.Body,
		"tag":     opts.Tag,
		"url":     opts.URL(),
		"urgent":  opts.RequireInteraction,
		"vibrate": opts.Vibrate,
	}), "notification shown")
	return nil
}

// LogToaster writes toasts to the structured log.
type LogToaster struct {
	Logger *logger.Logger
}

func (t LogToaster) Toast(ctx context.Context, toast Toast) error {
	t.Logger.Info(t.Logger.WithFields(ctx, map[string]any{
		"title":  toast.Title,
		"body":   toast.Body,
		"url":    toast.URL,
		"urgent": toast.Urgent,
	}), "toast shown")
	return nil
}

// LogAudio records cue playback.
type LogAudio struct {
	Logger *logger.Logger
}

func (a LogAudio) Play(ctx context.Context, src string) error {
	a.Logger.Debug(a.Logger.WithField(ctx, "cue", src), "audio cue played")
	return nil
}
