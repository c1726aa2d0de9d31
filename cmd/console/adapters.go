package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/confops/internal/agent"
	"github.com/angelmondragon/confops/internal/permission"
	"github.com/angelmondragon/confops/pkg/logger"
)

// fixedPrompter answers the permission prompt with a state chosen on the
// command line.
type fixedPrompter struct {
	answer permission.State
}

func (p fixedPrompter) Current() permission.State {
	return permission.StateDefault
}

func (p fixedPrompter) Request(context.Context) (permission.State, error) {
	return p.answer, nil
}

func parsePermission(value string) (permission.State, error) {
	switch permission.State(value) {
	case permission.StateGranted, permission.StateDenied, permission.StateDefault:
		return permission.State(value), nil
	default:
		return "", fmt.Errorf("unknown permission answer %q", value)
	}
}

// loopbackTokens mints one synthetic device token per registration so the
// console can exercise the token lifecycle without a push transport.
type loopbackTokens struct {
	logg *logger.Logger
}

func (t loopbackTokens) Token(ctx context.Context, serverKey string, reg *agent.Registration) (string, error) {
	if reg == nil {
		return "", fmt.Errorf("registration required")
	}
	token := "console-" + uuid.NewString()
	t.logg.Debug(t.logg.WithField(ctx, "server_key_set", serverKey != ""), "loopback device token minted")
	return token, nil
}

// logNavigator records focus and navigation requests from the agent.
type logNavigator struct {
	logg *logger.Logger
}

func (n logNavigator) Focus(ctx context.Context) error {
	n.logg.Info(ctx, "page focused")
	return nil
}

func (n logNavigator) Navigate(ctx context.Context, url string) error {
	n.logg.Info(n.logg.WithField(ctx, "url", url), "page navigated")
	return nil
}
