package notify

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deeplink"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptionsVibrationOnlyWhenCapable(t *testing.T) {
	assets := Assets{Icon: "/icon.png", Badge: "/badge.png"}

	withVibe := BuildOptions(Params{Body: "b", URL: "/timer", Capabilities: capability.Set{VibrationSupported: true}, Assets: assets})
	assert.Equal(t, []int{200, 100, 200}, withVibe.Vibrate)
	assert.Equal(t, "/timer", withVibe.URL())
	assert.Equal(t, "/icon.png", withVibe.Icon)

	without := BuildOptions(Params{Body: "b", Capabilities: capability.Set{}, Assets: assets})
	assert.Nil(t, without.Vibrate)
	assert.Equal(t, "", without.URL())
}

func TestBuildOptionsUrgent(t *testing.T) {
	opts := BuildOptions(Params{Urgent: true, Tag: "alert-1", Capabilities: capability.Set{VibrationSupported: true}})
	assert.True(t, opts.RequireInteraction)
	assert.True(t, opts.Renotify)
	assert.Len(t, opts.Vibrate, 5)
}

func TestBuildOptionsDoesNotAliasInput(t *testing.T) {
	data := map[string]any{"alertId": "1"}
	opts := BuildOptions(Params{Data: data, URL: "/x"})
	opts.Data["extra"] = true
	_, leaked := data["extra"]
	assert.False(t, leaked)
	_, hasURL := data["url"]
	assert.False(t, hasURL)
}

func TestFromMap(t *testing.T) {
	opts := FromMap("fallback", map[string]any{
		"icon":               "/i.png",
		"requireInteraction": true,
		"data":               map[string]any{"url": "/documents"},
		"custom":             1,
	})
	assert.Equal(t, "fallback", opts.Body)
	assert.Equal(t, "/i.png", opts.Icon)
	assert.True(t, opts.RequireInteraction)
	assert.Equal(t, "/documents", opts.URL())
	assert.Equal(t, 1, opts.Data["custom"])
}

type fakeRenderer struct {
	err   error
	shown []string
}

func (f *fakeRenderer) Show(_ context.Context, title string, _ Options) error {
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, title)
	return nil
}

type fakeToaster struct {
	toasts []Toast
	err    error
}

func (f *fakeToaster) Toast(_ context.Context, toast Toast) error {
	f.toasts = append(f.toasts, toast)
	return f.err
}

type failingAudio struct{ calls int }

func (f *failingAudio) Play(context.Context, string) error {
	f.calls++
	return stdErrors.New("autoplay blocked")
}

func TestShowWithFallbackRendersNatively(t *testing.T) {
	r := &fakeRenderer{}
	toaster := &fakeToaster{}
	rendered, err := ShowWithFallback(context.Background(), r, toaster, "Hello", Options{Body: "b"})
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.Empty(t, toaster.toasts)
}

func TestShowWithFallbackToastsOnRenderFailure(t *testing.T) {
	r := &fakeRenderer{err: stdErrors.New("illegal constructor")}
	toaster := &fakeToaster{}
	rendered, err := ShowWithFallback(context.Background(), r, toaster, "Hello", Options{Body: "b", Data: map[string]any{"url": "/timer"}})
	assert.False(t, rendered)
	assert.True(t, errors.IsCode(err, errors.CodeDeliveryRenderFailed))
	require.Len(t, toaster.toasts, 1)
	assert.Equal(t, "/timer", toaster.toasts[0].URL)
}

func TestShowWithFallbackWithoutRenderer(t *testing.T) {
	toaster := &fakeToaster{}
	rendered, err := ShowWithFallback(context.Background(), nil, toaster, "Hi", Options{})
	assert.False(t, rendered)
	assert.Error(t, err)
	assert.Len(t, toaster.toasts, 1)
}

func TestPlayCueSwallowsErrors(t *testing.T) {
	audio := &failingAudio{}
	PlayCue(context.Background(), audio, "/sounds/alert.mp3", logger.Nop())
	PlayCue(context.Background(), nil, "/sounds/alert.mp3", logger.Nop())
	PlayCue(context.Background(), audio, "", logger.Nop())
	assert.Equal(t, 1, audio.calls)
}

func TestDecodePayloadShapes(t *testing.T) {
	p, err := DecodePayload([]byte(`{"notification":{"title":"Reply","body":"Council answered"},"data":{"type":"reply","alertId":"42","priority":"urgent"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Reply", p.Title)
	assert.Equal(t, "Council answered", p.Body)
	assert.True(t, p.Urgent())
	assert.Equal(t, "alert-42", p.Tag())
	assert.Equal(t, "/chair?alert=42", deeplink.Resolve(p.Link("chair")))

	p, err = DecodePayload([]byte(`{"data":{"body":"From data"}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, p.Title)
	assert.Equal(t, "From data", p.Body)
	assert.Empty(t, p.Tag())

	_, err = DecodePayload([]byte(`[`))
	assert.Error(t, err)
}
