// Package protocol defines the typed messages exchanged between pages and the
// background agent. Requests and responses are correlated by Type only.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type tags a Message.
type Type string

const (
	TypePing                  Type = "PING"
	TypePong                  Type = "PONG"
	TypeSetUserRole           Type = "SET_USER_ROLE"
	TypeTestNotification      Type = "TEST_NOTIFICATION"
	TypeTestNotificationShown Type = "TEST_NOTIFICATION_SHOWN"
	TypeTestNotificationError Type = "TEST_NOTIFICATION_ERROR"
	TypeSkipWaiting           Type = "SKIP_WAITING"
	TypeReloadPageForUpdate   Type = "RELOAD_PAGE_FOR_UPDATE"
	TypeTokenObtained         Type = "FCM_TOKEN_OBTAINED"
	TypeTokenRemoved          Type = "FCM_TOKEN_REMOVED"
	TypeShowToast             Type = "SHOW_TOAST"
)

var knownTypes = map[Type]struct{}{
	TypePing:                  {},
	TypePong:                  {},
	TypeSetUserRole:           {},
	TypeTestNotification:      {},
	TypeTestNotificationShown: {},
	TypeTestNotificationError: {},
	TypeSkipWaiting:           {},
	TypeReloadPageForUpdate:   {},
	TypeTokenObtained:         {},
	TypeTokenRemoved:          {},
	TypeShowToast:             {},
}

// Known reports whether t is part of the protocol.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the tagged union. Every field beyond Type is optional and
// meaningful only for the types that use it.
type Message struct {
	Type    Type           `json:"type"`
	Role    string         `json:"role,omitempty"`
	Title   string         `json:"title,omitempty"`
	Body    string         `json:"body,omitempty"`
	Options map[string]any `json:"options,omitempty"`
	Token   string         `json:"token,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func Ping() Message { return Message{Type: TypePing} }

func Pong() Message { return Message{Type: TypePong} }

func SetUserRole(role string) Message { return Message{Type: TypeSetUserRole, Role: role} }

func TestNotification(title, body string, options map[string]any) Message {
	return Message{Type: TypeTestNotification, Title: title, Body: body, Options: options}
}

func TestNotificationShown() Message { return Message{Type: TypeTestNotificationShown} }

func TestNotificationError(err error) Message {
	msg := Message{Type: TypeTestNotificationError}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func SkipWaiting() Message { return Message{Type: TypeSkipWaiting} }

func ReloadPageForUpdate() Message { return Message{Type: TypeReloadPageForUpdate} }

func TokenObtained(token string) Message { return Message{Type: TypeTokenObtained, Token: token} }

func TokenRemoved() Message { return Message{Type: TypeTokenRemoved} }

// ShowToast carries a notification the agent could not render natively.
func ShowToast(title, body, url string, urgent bool) Message {
	msg := Message{Type: TypeShowToast, Title: title, Body: body, Options: map[string]any{}}
	if url != "" {
		msg.Options["url"] = url
	}
	if urgent {
		msg.Options["urgent"] = true
	}
	return msg
}

// Decode parses a wire message and rejects unknown types.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !msg.Type.Known() {
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// Encode renders msg for the wire.
func Encode(msg Message) ([]byte, error) {
	if !msg.Type.Known() {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return json.Marshal(msg)
}
