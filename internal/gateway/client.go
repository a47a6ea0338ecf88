package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/game/combat"
)

// client is one upgraded websocket connection.
type client struct {
	gw       *Gateway
	ws       *websocket.Conn
	conn     *broadcast.Conn
	userID   string
	location string
}

// greet tells a player who reconnects mid-combat which session they are in.
func (c *client) greet() {
	if id, ok := c.gw.deps.Combat.SessionFor(c.userID); ok {
		c.reply(broadcast.Envelope{Type: MsgAck, SessionID: id, Payload: Ack{Op: "resume", SessionID: id}})
	}
}

// readPump decodes inbound requests until the socket fails. Each request is
// answered with an Ack or an Error on the player's own connection.
func (c *client) readPump(ctx context.Context) {
	defer c.ws.Close()
	c.ws.SetReadLimit(c.gw.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.PongTimeout))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Warn("websocket read failed", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(broadcast.Envelope{Type: MsgError, Payload: Error{Code: CodeBadRequest, Message: "malformed request"}})
			continue
		}
		c.reply(c.handle(ctx, req))
	}
}

// writePump drains queued frames to the socket and keeps it alive with pings.
// It ends when the Conn is closed or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.conn.Frames():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.gw.logger.Debug("websocket write failed", zap.String("user", c.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) reply(env broadcast.Envelope) {
	if err := c.conn.Send(env); err != nil {
		c.gw.logger.Debug("dropping reply", zap.String("user", c.userID), zap.String("type", env.Type), zap.Error(err))
	}
}

// handle executes one request against the registry.
func (c *client) handle(ctx context.Context, req Request) broadcast.Envelope {
	fail := func(err error) broadcast.Envelope {
		e := errorFor(req.RequestID, err)
		if e.Code == CodeInternal {
			c.gw.logger.Error("request failed", zap.String("user", c.userID), zap.String("op", req.Op), zap.Error(err))
		}
		return broadcast.Envelope{Type: MsgError, SessionID: req.SessionID, Payload: e}
	}
	bad := func(msg string) broadcast.Envelope {
		return broadcast.Envelope{Type: MsgError, Payload: Error{RequestID: req.RequestID, Code: CodeBadRequest, Message: msg}}
	}
	ack := func(sessionID string, fled *bool) broadcast.Envelope {
		return broadcast.Envelope{Type: MsgAck, SessionID: sessionID, Payload: Ack{RequestID: req.RequestID, Op: req.Op, SessionID: sessionID, Fled: fled}}
	}

	switch req.Op {
	case OpStart:
		loc := req.LocationID
		if loc == "" {
			loc = c.location
		}
		snap, err := c.gw.deps.Combat.StartCombat(ctx, c.userID, loc, req.Targets)
		if err != nil {
			return fail(err)
		}
		if loc != c.location {
			c.location = loc
			c.gw.deps.Presence.Enter(c.userID, loc)
		}
		return ack(snap.ID, nil)
	case OpQueue:
		if req.AbilityID == "" {
			return bad("abilityId is required")
		}
		sid, err := c.sessionID(req)
		if err != nil {
			return fail(err)
		}
		if err := c.gw.deps.Combat.QueueAbility(ctx, c.userID, sid, req.AbilityID, req.TargetID); err != nil {
			return fail(err)
		}
		return ack(sid, nil)
	case OpFlee:
		sid, err := c.sessionID(req)
		if err != nil {
			return fail(err)
		}
		fled, err := c.gw.deps.Combat.AttemptFlee(ctx, c.userID, sid)
		if err != nil {
			return fail(err)
		}
		return ack(sid, &fled)
	default:
		return bad("unknown op " + req.Op)
	}
}

func (c *client) sessionID(req Request) (string, error) {
	if req.SessionID != "" {
		return req.SessionID, nil
	}
	if id, ok := c.gw.deps.Combat.SessionFor(c.userID); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: player is not in combat", combat.ErrSessionNotFound)
}
