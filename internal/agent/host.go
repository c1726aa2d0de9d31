package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/protocol"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/google/uuid"
)

// Endpoint is the sender id of messages posted by the agent.
const Endpoint = "agent"

// Navigator is the page-side hook the host uses to focus or navigate a page.
type Navigator interface {
	Focus(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
}

type page struct {
	id      string
	url     string
	focused bool
	inbox   *protocol.Mailbox
	nav     Navigator
}

// Registration is one registered agent script. It holds the active version
// and at most one version waiting to take over.
type Registration struct {
	id        string
	scriptURL string

	mu        sync.Mutex
	active    *Agent
	waiting   *Agent
	removed   bool
	activated chan struct{}
	once      sync.Once
}

func (r *Registration) ID() string { return r.id }

func (r *Registration) ScriptURL() string { return r.scriptURL }

// Activated is closed once the first version of this registration is active.
func (r *Registration) Activated() <-chan struct{} { return r.activated }

func (r *Registration) Active() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registration) Waiting() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// HostParams configure the per-origin host.
type HostParams struct {
	Origin       string
	Cache        Cache
	Assets       notify.Assets
	Renderer     notify.Renderer
	Audio        notify.AudioPlayer
	State        *localstate.Store
	Capabilities func() capability.Set
	SettleDelay  time.Duration
	CueTimeout   time.Duration
	Opener       func(ctx context.Context, url string) error
	Logger       *logger.Logger
	Metrics      *metrics.NotificationMetrics
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Host owns the agent registrations of one origin and the pages they control.
type Host struct {
	params HostParams
	logg   *logger.Logger
	inbox  *protocol.Mailbox

	mu            sync.Mutex
	registrations map[string]*Registration
	pages         map[string]*page
	controller    *Agent
	version       int
}

func NewHost(params HostParams) (*Host, error) {
	if params.Origin == "" {
		return nil, fmt.Errorf("origin required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("asset cache required")
	}
	if params.Renderer == nil {
		return nil, fmt.Errorf("renderer required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Capabilities == nil {
		params.Capabilities = func() capability.Set { return capability.Set{} }
	}
	return &Host{
		params:        params,
		logg:          params.Logger,
		inbox:         protocol.NewMailbox(64),
		registrations: make(map[string]*Registration),
		pages:         make(map[string]*page),
	}, nil
}

func (h *Host) Origin() string { return h.params.Origin }

// Register returns the registration for scriptURL, installing a first version
// when none exists. Activation happens asynchronously; wait on Activated.
func (h *Host) Register(ctx context.Context, scriptURL string) (*Registration, error) {
	if strings.TrimSpace(scriptURL) == "" {
		return nil, errors.New(errors.CodeValidation, "script url required")
	}
	h.mu.Lock()
	if reg, ok := h.registrations[scriptURL]; ok {
		h.mu.Unlock()
		return reg, nil
	}
	reg := &Registration{id: uuid.NewString(), scriptURL: scriptURL, activated: make(chan struct{})}
	h.registrations[scriptURL] = reg
	h.mu.Unlock()

	if err := h.install(ctx, reg); err != nil {
		h.mu.Lock()
		delete(h.registrations, scriptURL)
		h.mu.Unlock()
		return nil, err
	}
	return reg, nil
}

// Update installs a new version into an existing registration.
func (h *Host) Update(ctx context.Context, reg *Registration) error {
	return h.install(ctx, reg)
}

// Registrations lists every registration of the origin.
func (h *Host) Registrations() []*Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Registration, 0, len(h.registrations))
	for _, reg := range h.registrations {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].scriptURL < out[j].scriptURL })
	return out
}

// Unregister removes reg and stops its versions.
func (h *Host) Unregister(ctx context.Context, reg *Registration) error {
	if reg == nil {
		return nil
	}
	h.mu.Lock()
	if current, ok := h.registrations[reg.scriptURL]; ok && current == reg {
		delete(h.registrations, reg.scriptURL)
	}
	h.mu.Unlock()

	reg.mu.Lock()
	reg.removed = true
	active, waiting := reg.active, reg.waiting
	reg.active, reg.waiting = nil, nil
	reg.mu.Unlock()

	if waiting != nil {
		waiting.stop()
	}
	if active != nil {
		active.stop()
		h.mu.Lock()
		if h.controller == active {
			h.controller = nil
		}
		h.mu.Unlock()
	}
	h.logg.Info(h.logg.WithOrigin(ctx, h.params.Origin), fmt.Sprintf("unregistered %s", reg.scriptURL))
	return nil
}

// Active reports whether an activated agent controls the origin's pages.
func (h *Host) Active() bool {
	a := h.current()
	return a != nil && a.Phase() == PhaseActivated
}

func (h *Host) current() *Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controller
}

// Connect attaches a page and returns its port. Messages posted on the port
// reach whichever agent currently controls the origin.
func (h *Host) Connect(id, url string, nav Navigator) *protocol.Port {
	inbox := protocol.NewMailbox(0)
	h.mu.Lock()
	if old, ok := h.pages[id]; ok {
		old.inbox.Close()
	}
	h.pages[id] = &page{id: id, url: url, inbox: inbox, nav: nav}
	h.mu.Unlock()
	return protocol.NewPort(id, inbox, h.inbox)
}

// Disconnect detaches a page. Once no page remains, waiting versions activate.
func (h *Host) Disconnect(ctx context.Context, id string) {
	h.mu.Lock()
	if p, ok := h.pages[id]; ok {
		p.inbox.Close()
		delete(h.pages, id)
	}
	remaining := len(h.pages)
	h.mu.Unlock()
	if remaining > 0 {
		return
	}
	for _, reg := range h.Registrations() {
		if w := reg.Waiting(); w != nil {
			h.activate(context.WithoutCancel(ctx), reg, w, false)
		}
	}
}

// Push hands a raw payload to the controlling agent and waits for it to render.
func (h *Host) Push(ctx context.Context, raw []byte) error {
	p, err := notify.DecodePayload(raw)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "invalid push payload")
	}
	a := h.current()
	if a == nil {
		return errors.New(errors.CodeDependency, "no active background agent")
	}
	return a.submit(ctx, event{push: &p})
}

// Click routes a notification click to the controlling agent.
func (h *Host) Click(ctx context.Context, c Click) error {
	a := h.current()
	if a == nil {
		return errors.New(errors.CodeDependency, "no active background agent")
	}
	return a.submit(ctx, event{click: &c})
}

// Close stops every agent and releases the shared inbox.
func (h *Host) Close() {
	for _, reg := range h.Registrations() {
		_ = h.Unregister(context.Background(), reg)
	}
	h.inbox.Close()
}

func (h *Host) install(ctx context.Context, reg *Registration) error {
	h.mu.Lock()
	h.version++
	version := h.version
	h.mu.Unlock()

	a, err := New(Params{
		Version:      version,
		Origin:       h.params.Origin,
		Cache:        h.params.Cache,
		Assets:       h.params.Assets,
		Renderer:     h.params.Renderer,
		Audio:        h.params.Audio,
		Windows:      h,
		Clients:      h,
		State:        h.params.State,
		Capabilities: h.params.Capabilities,
		SettleDelay:  h.params.SettleDelay,
		CueTimeout:   h.params.CueTimeout,
		Logger:       h.logg,
		Metrics:      h.params.Metrics,
		Sleep:        h.params.Sleep,
	})
	if err != nil {
		return err
	}
	go h.installAndActivate(context.WithoutCancel(ctx), reg, a)
	return nil
}

func (h *Host) installAndActivate(ctx context.Context, reg *Registration, a *Agent) {
	ctx = h.logg.WithOrigin(ctx, h.params.Origin)
	if err := a.install(ctx); err != nil {
		h.logg.Error(ctx, "agent install failed", err)
		a.setPhase(PhaseRedundant)
		return
	}

	reg.mu.Lock()
	if reg.removed {
		reg.mu.Unlock()
		a.setPhase(PhaseRedundant)
		return
	}
	replacing := reg.active != nil
	if replacing && !h.forcedActivationAllowed() {
		previous := reg.waiting
		reg.waiting = a
		reg.mu.Unlock()
		if previous != nil {
			previous.setPhase(PhaseRedundant)
		}
		h.logg.Info(ctx, fmt.Sprintf("agent %s waiting for pages to close", a.generation))
		return
	}
	reg.mu.Unlock()
	h.activate(ctx, reg, a, replacing)
}

// activate promotes a to the active version of reg. forced marks a takeover
// while pages were still open; those pages are asked to reload.
func (h *Host) activate(ctx context.Context, reg *Registration, a *Agent, forced bool) {
	reg.mu.Lock()
	if reg.removed {
		reg.mu.Unlock()
		return
	}
	previous := reg.active
	reg.active = a
	if reg.waiting == a {
		reg.waiting = nil
	}
	reg.mu.Unlock()

	if previous != nil && previous != a {
		previous.stop()
	}
	a.activate(ctx)
	a.start(h.inbox.C())
	reg.once.Do(func() { close(reg.activated) })

	if forced && previous != nil {
		n := h.Broadcast(protocol.ReloadPageForUpdate())
		h.logg.Info(ctx, fmt.Sprintf("forced activation of %s, asked %d pages to reload", a.generation, n))
	}
}

// forcedActivationAllowed is false where taking over open pages is known to
// break in-flight sessions.
func (h *Host) forcedActivationAllowed() bool {
	return h.params.Capabilities().Platform != enums.DevicePlatformSafariIOS
}

// Claim makes a the controller of every connected page.
func (h *Host) Claim(a *Agent) int {
	h.mu.Lock()
	previous := h.controller
	h.controller = a
	n := len(h.pages)
	h.mu.Unlock()
	if previous != nil && previous != a {
		previous.halt()
	}
	return n
}

// SkipWaiting activates waiting versions immediately when the platform allows it.
func (h *Host) SkipWaiting(ctx context.Context) bool {
	if !h.forcedActivationAllowed() {
		return false
	}
	promoted := false
	for _, reg := range h.Registrations() {
		w := reg.Waiting()
		if w == nil {
			continue
		}
		promoted = true
		// The request usually arrives on the current agent's own loop, which
		// activation has to stop.
		go h.activate(context.WithoutCancel(ctx), reg, w, true)
	}
	return promoted
}

func (h *Host) PostTo(id string, msg protocol.Message) bool {
	h.mu.Lock()
	p, ok := h.pages[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return p.inbox.Deliver(protocol.Envelope{From: Endpoint, Message: msg})
}

func (h *Host) Broadcast(msg protocol.Message) int {
	h.mu.Lock()
	inboxes := make([]*protocol.Mailbox, 0, len(h.pages))
	for _, p := range h.pages {
		inboxes = append(inboxes, p.inbox)
	}
	h.mu.Unlock()
	n := 0
	for _, inbox := range inboxes {
		if inbox.Deliver(protocol.Envelope{From: Endpoint, Message: msg}) {
			n++
		}
	}
	return n
}

func (h *Host) List(context.Context) ([]Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Window, 0, len(h.pages))
	for _, p := range h.pages {
		out = append(out, Window{ID: p.id, URL: p.url, Focused: p.focused, Focusable: p.nav != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *Host) Focus(ctx context.Context, id string) error {
	p, err := h.page(id)
	if err != nil {
		return err
	}
	if err := p.nav.Focus(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	for _, other := range h.pages {
		other.focused = other.id == id
	}
	h.mu.Unlock()
	return nil
}

func (h *Host) Navigate(ctx context.Context, id, url string) error {
	p, err := h.page(id)
	if err != nil {
		return err
	}
	if err := p.nav.Navigate(ctx, url); err != nil {
		return err
	}
	h.mu.Lock()
	p.url = url
	h.mu.Unlock()
	return nil
}

func (h *Host) Open(ctx context.Context, url string) error {
	if h.params.Opener == nil {
		return errors.New(errors.CodeUnsupported, "opening pages is not available")
	}
	return h.params.Opener(ctx, url)
}

func (h *Host) page(id string) (*page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	if !ok || p.nav == nil {
		return nil, errors.New(errors.CodeNotFound, "page "+id+" is not focusable")
	}
	return p, nil
}
