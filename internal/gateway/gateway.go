package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/shoplane/chat-pipeline/internal/middleware"
	"github.com/shoplane/chat-pipeline/internal/model"
	"github.com/shoplane/chat-pipeline/pkg/logger"
	"github.com/shoplane/chat-pipeline/pkg/metrics"
)

const maxFrameBytes = 128 * 1024

// PresenceLedger is the slice of the presence API the gateway needs.
type PresenceLedger interface {
	MarkOnline(ctx context.Context, identity string) error
	MarkOffline(ctx context.Context, identity string) error
}

// Config tunes per-connection behavior.
type Config struct {
	SendQueueSize   int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 2 * time.Minute
	}
	return c
}

// Gateway upgrades HTTP requests to websocket sessions and runs the
// per-connection read loop. The first payload on a new transport is a bare
// identity string; everything after it is a structured event.
type Gateway struct {
	log      *logger.Logger
	registry *Registry
	router   *Router
	presence PresenceLedger
	cfg      Config
}

// New creates the websocket gateway.
func New(log *logger.Logger, registry *Registry, router *Router, presence PresenceLedger, cfg Config) *Gateway {
	return &Gateway{
		log:      log,
		registry: registry,
		router:   router,
		presence: presence,
		cfg:      cfg.withDefaults(),
	}
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS runs one connection lifecycle: identify, register, route, and on
// any exit deterministically remove the handle and then the presence entry.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.log.Error("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	ws.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	identity, err := g.readIdentity(ctx, ws)
	if err != nil {
		g.log.Warn("identification failed", zap.Error(err))
		_ = ws.Close(websocket.StatusPolicyViolation, "identify first")
		return
	}

	conn := newConn(identity, g.cfg.SendQueueSize)
	if old := g.registry.Register(conn); old != nil {
		old.Close()
	}
	if err := g.presence.MarkOnline(ctx, identity); err != nil {
		// Advisory only; the durable path does not depend on presence.
		g.log.Warn("presence mark online failed", zap.String("identity", identity), zap.Error(err))
	}

	metrics.IncrementWSConnections()
	log := g.log.With(zap.String("identity", identity))
	log.Info("connection identified")

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			// Handle removal strictly precedes the presence delete.
			g.registry.Unregister(conn)

			offCtx, offCancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := g.presence.MarkOffline(offCtx, identity); err != nil {
				log.Warn("presence mark offline failed", zap.Error(err))
			}
			offCancel()

			conn.Close()
			_ = ws.Close(code, reason)
			cancel()
			metrics.DecrementWSConnections()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case ev := <-conn.send:
				if err := g.writeEvent(ctx, ws, ev); err != nil {
					log.Info("write failed", zap.Error(err))
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		_, data, err := ws.Read(readCtx)
		readCancel()
		if err != nil {
			log.Info("read loop ended", zap.Error(err))
			break readLoop
		}

		var ev model.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			metrics.MessagesInvalid.Inc()
			log.Warn("malformed payload dropped", zap.Error(err))
			continue
		}

		switch {
		case ev.Type == model.EventMarkAsSeen:
			if err := g.router.MarkSeen(ctx, identity, ev.ConversationID); err != nil {
				log.Warn("mark seen failed", zap.String("conversation_id", ev.ConversationID), zap.Error(err))
			}

		case ev.IsChatSend():
			if err := middleware.ValidateMessageContent(ev.MessageBody); err != nil {
				metrics.MessagesInvalid.Inc()
				log.Warn("chat event dropped", zap.Error(err))
				continue
			}
			// Route logs and counts its own failures; the connection
			// stays up either way.
			_ = g.router.Route(ctx, &ev)

		default:
			metrics.MessagesInvalid.Inc()
			log.Warn("unsupported event type dropped", zap.String("type", string(ev.Type)))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
}

func (g *Gateway) readIdentity(ctx context.Context, ws *websocket.Conn) (string, error) {
	readCtx, cancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
	defer cancel()

	_, data, err := ws.Read(readCtx)
	if err != nil {
		return "", err
	}

	identity := strings.TrimSpace(string(data))
	if err := middleware.ValidateIdentity(identity); err != nil {
		return "", err
	}
	return identity, nil
}

func (g *Gateway) writeEvent(ctx context.Context, ws *websocket.Conn, ev model.OutboundEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
