package foreground

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/deferred"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	titles []string
	opts   []notify.Options
	err    error
}

func (r *stubRenderer) Show(_ context.Context, title string, opts notify.Options) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	r.opts = append(r.opts, opts)
	return nil
}

type stubToaster struct {
	toasts []notify.Toast
	err    error
}

func (t *stubToaster) Toast(_ context.Context, toast notify.Toast) error {
	if t.err != nil {
		return t.err
	}
	t.toasts = append(t.toasts, toast)
	return nil
}

type stubAudio struct{ plays int }

func (a *stubAudio) Play(context.Context, string) error {
	a.plays++
	return nil
}

type setup struct {
	listener *Listener
	renderer *stubRenderer
	toaster  *stubToaster
	audio    *stubAudio
	deferred *deferred.Store
	caps     capability.Set
	visible  bool
	granted  bool
}

func newSetup(t *testing.T, caps capability.Set) *setup {
	t.Helper()
	state, err := localstate.New(localstate.NewMemory(), "page")
	require.NoError(t, err)
	s := &setup{renderer: &stubRenderer{}, toaster: &stubToaster{}, audio: &stubAudio{}, caps: caps, visible: true, granted: true}
	s.deferred, err = deferred.NewStore(deferred.StoreParams{State: state, Toaster: s.toaster})
	require.NoError(t, err)
	s.listener, err = NewListener(ListenerParams{
		Renderer:     s.renderer,
		Toaster:      s.toaster,
		Audio:        s.audio,
		Deferred:     s.deferred,
		Assets:       notify.Assets{Icon: "/icons/icon-192.png", Sound: "/sounds/alert.mp3"},
		Capabilities: func() capability.Set { return s.caps },
		Permitted:    func() bool { return s.granted },
		Visible:      func() bool { return s.visible },
		Role:         func() string { return "chair" },
	})
	require.NoError(t, err)
	return s
}

func android() capability.Set {
	return capability.Set{NotificationsSupported: true, BackgroundPushSupported: true, VibrationSupported: true, Platform: enums.DevicePlatformChromiumAndroid}
}

func TestHandleRendersNativeAndToasts(t *testing.T) {
	s := newSetup(t, android())
	out, err := s.listener.HandleRaw(context.Background(), []byte(`{"title":"Roll call","body":"Now","data":{"type":"attendance"}}`))
	require.NoError(t, err)

	assert.True(t, out.Rendered)
	assert.True(t, out.Toasted)
	assert.False(t, out.Deferred)
	assert.Equal(t, "/chair/attendance", out.Target)
	require.Len(t, s.renderer.opts, 1)
	assert.Equal(t, []int{200, 100, 200}, s.renderer.opts[0].Vibrate)
	require.Len(t, s.toaster.toasts, 1)
	assert.Equal(t, "/chair/attendance", s.toaster.toasts[0].URL)
	assert.Equal(t, 1, s.audio.plays)
}

func TestHandleWithoutPermissionToastsOnly(t *testing.T) {
	s := newSetup(t, android())
	s.granted = false
	out := s.listener.Handle(context.Background(), notify.Payload{Title: "x", Data: map[string]string{}})
	assert.False(t, out.Rendered)
	assert.True(t, out.Toasted)
	assert.Empty(t, s.renderer.titles)
}

func TestHandleRenderFailureFallsBackToToast(t *testing.T) {
	s := newSetup(t, android())
	s.renderer.err = stdErrors.New("blocked")
	out := s.listener.Handle(context.Background(), notify.Payload{Title: "x", Data: map[string]string{"type": "timer"}})
	assert.False(t, out.Rendered)
	assert.True(t, out.Toasted)
	assert.Equal(t, "/timer", out.Target)
}

func TestHandleDefersOnHiddenDegradedPlatform(t *testing.T) {
	s := newSetup(t, capability.Set{NotificationsSupported: true, RequiresInstall: true, Platform: enums.DevicePlatformSafariIOS})
	s.visible = false
	out := s.listener.Handle(context.Background(), notify.Payload{Title: "Doc", Body: "New file", Data: map[string]string{"type": "document"}})
	assert.True(t, out.Deferred)
	assert.Empty(t, s.toaster.toasts)

	pending, err := s.deferred.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "/documents", pending[0].URL)
}

func TestHandleDefersWhenNothingCouldBeShown(t *testing.T) {
	s := newSetup(t, capability.Set{})
	s.toaster.err = stdErrors.New("toast host gone")
	out := s.listener.Handle(context.Background(), notify.Payload{Title: "x", Data: map[string]string{}})
	assert.True(t, out.Deferred)
	assert.Zero(t, s.audio.plays)
}

func TestHandleRawRejectsGarbage(t *testing.T) {
	s := newSetup(t, android())
	_, err := s.listener.HandleRaw(context.Background(), []byte("{"))
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}
