// Package gateway is the websocket connection layer: it binds player
// connections to the broadcaster and turns inbound requests into combat
// registry calls.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/game/character"
	"github.com/cory-johannsen/skirmish/internal/game/combat"
)

// Combat is the part of the session registry the gateway drives.
type Combat interface {
	StartCombat(ctx context.Context, userID, locationID string, targetCreatureIDs []string) (combat.Snapshot, error)
	QueueAbility(ctx context.Context, userID, sessionID, abilityID, targetID string) error
	AttemptFlee(ctx context.Context, userID, sessionID string) (bool, error)
	Disconnect(ctx context.Context, userID string)
	SessionFor(userID string) (string, bool)
}

// Mirror supplies an extra outbound channel per player, such as a NATS subject.
type Mirror interface {
	Channel(userID string) broadcast.Channel
}

// Presence tracks which location connected players occupy.
type Presence interface {
	Enter(userID, locationID string)
	Leave(userID string)
}

// Config tunes websocket connections.
type Config struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{SendBuffer: 64, WriteTimeout: 10 * time.Second, PongTimeout: 60 * time.Second, MaxMessageBytes: 4096}
}

func (c Config) pingPeriod() time.Duration {
	return c.PongTimeout * 9 / 10
}

// Deps are the gateway's collaborators. Mirror is optional.
type Deps struct {
	Broadcaster *broadcast.Broadcaster
	Combat      Combat
	Users       character.Store
	Presence    Presence
	Mirror      Mirror
	Logger      *zap.Logger
}

// Gateway accepts player websocket connections.
type Gateway struct {
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Gateway.
//
// Precondition: every field of deps except Mirror is non-nil.
func New(cfg Config, deps Deps) *Gateway {
	return &Gateway{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes: the websocket endpoint at /ws and a
// liveness probe at /healthz.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", g)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeHTTP upgrades an identified player's request and runs the connection
// until it closes. The player is named by the X-User-ID header or the user
// query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user")
	}
	if userID == "" {
		http.Error(w, "missing user id", http.StatusUnauthorized)
		return
	}
	user, err := g.deps.Users.Get(r.Context(), userID)
	if errors.Is(err, character.ErrUserNotFound) {
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}
	if err != nil {
		g.logger.Error("loading connecting user", zap.String("user", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.String("user", userID), zap.Error(err))
		return
	}

	conn := broadcast.NewConn(userID, g.cfg.SendBuffer)
	var ch broadcast.Channel = conn
	if g.deps.Mirror != nil {
		ch = broadcast.NewFanout(conn, g.deps.Mirror.Channel(userID))
	}
	c := &client{gw: g, ws: ws, conn: conn, userID: userID, location: user.LocationID}

	ctx := context.WithoutCancel(r.Context())
	g.RegisterConnection(userID, user.LocationID, ch)
	defer g.UnregisterConnection(ctx, userID, ch)

	go c.writePump()
	c.greet()
	c.readPump(ctx)
}

// RegisterConnection binds ch as userID's outbound channel and marks the
// player present at locationID. A previous connection for userID is closed.
func (g *Gateway) RegisterConnection(userID, locationID string, ch broadcast.Channel) {
	g.deps.Presence.Enter(userID, locationID)
	g.deps.Broadcaster.Register(userID, ch)
	g.logger.Info("player connected", zap.String("user", userID), zap.String("location", locationID))
}

// UnregisterConnection drops ch if it is still userID's channel. The player
// leaves presence and their pending combat action is discarded; they stay in
// any session they are in.
func (g *Gateway) UnregisterConnection(ctx context.Context, userID string, ch broadcast.Channel) {
	if !g.deps.Broadcaster.UnregisterIf(userID, ch) {
		return
	}
	g.deps.Presence.Leave(userID)
	g.deps.Combat.Disconnect(ctx, userID)
	g.logger.Info("player disconnected", zap.String("user", userID))
}
