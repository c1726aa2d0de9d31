package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRejectsUnknownTypes(t *testing.T) {
	data, err := Encode(SetUserRole("chair"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SET_USER_ROLE","role":"chair"}`, string(data))

	_, err = Decode([]byte(`{"type":"SELF_DESTRUCT"}`))
	require.Error(t, err)

	_, err = Encode(Message{Type: "NOPE"})
	require.Error(t, err)
}

func TestTestNotificationErrorCarriesText(t *testing.T) {
	msg := TestNotificationError(errors.New("render failed"))
	assert.Equal(t, TypeTestNotificationError, msg.Type)
	assert.Equal(t, "render failed", msg.Error)
}

func TestMailboxDropsWhenFullOrClosed(t *testing.T) {
	mb := NewMailbox(1)
	assert.True(t, mb.Deliver(Envelope{Message: Ping()}))
	assert.False(t, mb.Deliver(Envelope{Message: Ping()}), "full mailbox should drop")

	<-mb.C()
	mb.Close()
	mb.Close()
	assert.True(t, mb.Closed())
	assert.False(t, mb.Deliver(Envelope{Message: Ping()}), "closed mailbox should drop")
}

func TestPortPostsToPeerWithSenderID(t *testing.T) {
	agentInbox := NewMailbox(4)
	pageInbox := NewMailbox(4)
	page := NewPort("page-1", pageInbox, agentInbox)
	agent := NewPort("agent", agentInbox, pageInbox)

	require.True(t, page.Post(Ping()))
	env := <-agent.Receive()
	assert.Equal(t, "page-1", env.From)
	assert.Equal(t, TypePing, env.Message.Type)

	require.True(t, agent.Post(Pong()))
	reply := <-page.Receive()
	assert.Equal(t, TypePong, reply.Message.Type)

	var nilPort *Port
	assert.False(t, nilPort.Post(Ping()))
}

func TestRouterServeDispatchesByType(t *testing.T) {
	r := NewRouter()
	got := make(chan Type, 4)
	r.Handle(TypePing, func(_ context.Context, env Envelope) { got <- env.Message.Type })
	r.Fallback(func(_ context.Context, env Envelope) { got <- "fallback:" + env.Message.Type })

	in := NewMailbox(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, in.C()) }()

	in.Deliver(Envelope{Message: Ping()})
	in.Deliver(Envelope{Message: Pong()})

	assert.Equal(t, TypePing, <-got)
	assert.Equal(t, Type("fallback:PONG"), <-got)

	in.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after inbox closed")
	}
}
