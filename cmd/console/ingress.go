package main

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/confops/internal/agent"
	"github.com/angelmondragon/confops/internal/foreground"
	"github.com/angelmondragon/confops/pkg/logger"
)

// backgroundAgent is the part of *agent.Host the ingress drives.
type backgroundAgent interface {
	Push(ctx context.Context, raw []byte) error
	Click(ctx context.Context, c agent.Click) error
}

// foregroundPage is the part of *page.Runtime the ingress drives.
type foregroundPage interface {
	Visible() bool
	HandleForeground(ctx context.Context, raw []byte) (foreground.Outcome, error)
}

// clickMessage lets an operator simulate a notification click on the push
// channel: {"click":{"tag":"alert-42","data":{"url":"/chair?alert=42"}}}.
type clickMessage struct {
	Click *struct {
		Tag  string         `json:"tag"`
		Data map[string]any `json:"data"`
	} `json:"click"`
}

// ingress feeds loopback push traffic into the page or the background agent,
// the way the platform would: a visible page takes pushes on its live
// channel, otherwise the agent renders them.
type ingress struct {
	agent backgroundAgent
	page  foregroundPage
	logg  *logger.Logger
}

func (in ingress) deliver(ctx context.Context, raw []byte) error {
	var click clickMessage
	if err := json.Unmarshal(raw, &click); err == nil && click.Click != nil {
		return in.agent.Click(ctx, agent.Click{Tag: click.Click.Tag, Data: click.Click.Data})
	}
	if in.page.Visible() {
		out, err := in.page.HandleForeground(ctx, raw)
		if err != nil {
			return err
		}
		in.logg.Info(in.logg.WithFields(ctx, map[string]any{
			"target":   out.Target,
			"rendered": out.Rendered,
			"toasted":  out.Toasted,
			"deferred": out.Deferred,
		}), "foreground push handled")
		return nil
	}
	return in.agent.Push(ctx, raw)
}

// run consumes msgs until ctx ends or the channel closes.
func (in ingress) run(ctx context.Context, msgs <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				in.logg.Warn(ctx, "push channel closed")
				return
			}
			if err := in.deliver(ctx, []byte(msg.Payload)); err != nil {
				in.logg.Warn(in.logg.WithField(ctx, "channel", msg.Channel), fmt.Sprintf("push delivery failed: %v", err))
			}
		}
	}
}
