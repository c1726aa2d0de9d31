package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/confops/internal/agent"
	"github.com/angelmondragon/confops/internal/capability"
	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/internal/localstate"
	"github.com/angelmondragon/confops/internal/notify"
	"github.com/angelmondragon/confops/internal/page"
	"github.com/angelmondragon/confops/internal/realtime"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/angelmondragon/confops/pkg/redis"
)

const (
	consoleUserAgent = "Mozilla/5.0 (X11; Linux x86_64) confops-console"
	testSettle       = 2 * time.Second
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "console"})

	_ = godotenv.Load()

	role := flag.String("role", "admin", "dashboard role: admin|chair|press")
	pageURL := flag.String("page", "/admin", "page path the console pretends to be")
	answer := flag.String("permission", "granted", "permission prompt answer: granted|denied|default")
	apiURL := flag.String("api", "", "api base url for the device token mirror (optional)")
	testTitle := flag.String("test", "", "send a TEST_NOTIFICATION with this title and exit")
	hidden := flag.Bool("hidden", false, "start with the page hidden so pushes go to the background agent")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "console"

	logg = logger.New(logger.Options{
		ServiceName: "console",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	prompt, err := parsePermission(*answer)
	requireResource(ctx, logg, "permission flag", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	store, err := realtime.NewRedis(redisClient, logg)
	requireResource(ctx, logg, "realtime store", err)

	m := metrics.NewNotificationMetrics(prometheus.DefaultRegisterer)
	renderer := notify.LogRenderer{Logger: logg}
	toaster := notify.LogToaster{Logger: logg}
	audio := notify.LogAudio{Logger: logg}
	signals := func() capability.Signals {
		return capability.Signals{
			UserAgent:        consoleUserAgent,
			Standalone:       true,
			NotificationAPI:  true,
			ServiceWorkerAPI: true,
			PushManagerAPI:   true,
		}
	}

	agentState, err := localstate.New(redisClient, "agent")
	requireResource(ctx, logg, "agent state", err)
	cache, err := agent.NewStateCache(agentState)
	requireResource(ctx, logg, "agent cache", err)

	host, err := agent.NewHost(agent.HostParams{
		Origin:       cfg.App.Origin,
		Cache:        cache,
		Assets:       notify.Assets{Icon: cfg.Push.IconPath, Badge: cfg.Push.BadgePath, Sound: cfg.Push.SoundPath},
		Renderer:     renderer,
		Audio:        audio,
		State:        agentState,
		Capabilities: func() capability.Set { return capability.Detect(signals()) },
		SettleDelay:  cfg.Push.ClickSettleDelay,
		Logger:       logg,
		Metrics:      m,
	})
	requireResource(ctx, logg, "agent host", err)
	defer host.Close()

	var (
		accessToken string
		runtime     *page.Runtime
	)
	params := page.AssembleParams{
		ID:        "console",
		URL:       strings.TrimRight(cfg.App.Origin, "/") + *pageURL,
		Config:    cfg,
		Store:     store,
		KV:        redisClient,
		Host:      host,
		Navigator: logNavigator{logg: logg},
		Renderer:  renderer,
		Toaster:   toaster,
		Audio:     audio,
		Prompter:  fixedPrompter{answer: prompt},
		Tokens:    loopbackTokens{logg: logg},
		LockStore: redisClient,
		Signals:   signals,
		OnReload: func(ctx context.Context) {
			logg.Info(ctx, "agent requested page reload")
		},
		Logger:  logg,
		Metrics: m,
	}
	if *apiURL != "" {
		accessToken = strings.TrimSpace(os.Getenv("CONFOPS_CONSOLE_ACCESS_TOKEN"))
		if accessToken == "" {
			requireResource(ctx, logg, "console access token", fmt.Errorf("CONFOPS_CONSOLE_ACCESS_TOKEN is required with -api"))
		}
		mirror, err := devicetokens.NewClient(*apiURL,
			func(context.Context) string { return accessToken },
			devicetokens.WithRole(func() string {
				if runtime == nil {
					return ""
				}
				return runtime.Role()
			}),
		)
		requireResource(ctx, logg, "device token mirror", err)
		params.Mirror = mirror
		params.SignedIn = func() bool { return accessToken != "" }
	}

	runtime, err = page.Assemble(ctx, params)
	requireResource(ctx, logg, "page runtime", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":    cfg.App.Env,
		"origin": cfg.App.Origin,
		"role":   *role,
	})

	if err := runtime.Start(runCtx); err != nil {
		requireResource(runCtx, logg, "runtime start", err)
	}
	defer runtime.Close()

	if err := runtime.SetUserRole(runCtx, *role); err != nil {
		requireResource(runCtx, logg, "role", err)
	}

	result, err := runtime.RequestPermission(runCtx)
	if err != nil {
		logg.Warn(runCtx, fmt.Sprintf("permission request failed: %v", err))
	} else {
		logg.Info(logg.WithField(runCtx, "permission", result.Status), "permission resolved")
	}

	if *testTitle != "" {
		if !runtime.TestNotification(*testTitle, "Sent from the ops console", nil) {
			logg.Warn(runCtx, "agent mailbox full; test notification dropped")
		}
		// give the agent a moment to render before the deferred Close
		select {
		case <-runCtx.Done():
		case <-time.After(testSettle):
		}
		return
	}

	if *hidden {
		runtime.OnHidden()
	}
	if result.Token != nil {
		channel := redisClient.PushChannel(result.Token.Value)
		pushes, err := redisClient.Subscribe(runCtx, channel)
		if err != nil {
			logg.Error(runCtx, "push channel unavailable", err)
		} else {
			defer func() { _ = pushes.Close() }()
			go ingress{agent: host, page: runtime, logg: logg}.run(runCtx, pushes.Channel())
			logg.Info(logg.WithField(runCtx, "channel", channel), "console receiving loopback pushes")
		}
	}

	if err := runtime.InitializeAlertListeners(runCtx); err != nil {
		logg.Error(runCtx, "alert listeners unavailable", err)
	}
	logg.Info(runCtx, "console listening for alerts and timers")

	<-runCtx.Done()
	logg.Info(runCtx, "console shutting down")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
