package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
	maxReadBytes   = 512
)

// GatewayParams configure the websocket gateway.
type GatewayParams struct {
	Store  Store
	Logger *logger.Logger
	// Collections limits what clients may subscribe to. Empty allows any.
	Collections    []string
	AllowedOrigins []string
}

// Gateway streams realtime events for one collection per websocket connection.
type Gateway struct {
	store       Store
	logg        *logger.Logger
	collections map[string]struct{}
	upgrader    websocket.Upgrader
}

func NewGateway(params GatewayParams) (*Gateway, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("realtime store required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	collections := make(map[string]struct{}, len(params.Collections))
	for _, c := range params.Collections {
		collections[c] = struct{}{}
	}
	origins := make(map[string]struct{}, len(params.AllowedOrigins))
	for _, o := range params.AllowedOrigins {
		origins[o] = struct{}{}
	}
	return &Gateway{
		store:       params.Store,
		logg:        logg,
		collections: collections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}, nil
}

// ServeHTTP upgrades the request and streams ?collection= events until either side closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		http.Error(w, "collection is required", http.StatusBadRequest)
		return
	}
	if len(g.collections) > 0 {
		if _, ok := g.collections[collection]; !ok {
			http.Error(w, "unknown collection", http.StatusNotFound)
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logg.Warn(r.Context(), fmt.Sprintf("websocket upgrade failed: %v", err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = g.logg.WithField(ctx, "collection", collection)
	defer cancel()

	send := make(chan []byte, sendBufferSize)
	sub, err := g.store.Subscribe(ctx, collection, func(evt Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
			g.logg.Warn(ctx, "websocket send buffer full; dropping event")
		}
	})
	if err != nil {
		g.logg.Error(ctx, "realtime subscribe failed", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer sub.Unsubscribe()

	go g.writePump(ctx, conn, send)
	g.readPump(ctx, conn)
}

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logg.Warn(ctx, fmt.Sprintf("websocket closed unexpectedly: %v", err))
			}
			return
		}
	}
}

func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
