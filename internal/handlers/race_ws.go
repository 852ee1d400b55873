// internal/handlers/race_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/jason-s-yu/mazerush/internal/auth"
	"github.com/jason-s-yu/mazerush/internal/broadcast"
	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/lobby"
	"github.com/jason-s-yu/mazerush/internal/middleware"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	raceSubprotocol = "race"
	outBufferSize   = 64
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
)

// RaceWS upgrades GET /race/ws/{code} to a websocket. The connection joins
// the race on open, forwards every command to the race service, and
// disconnects the player when it closes. Only members of a started lobby
// get in; everyone else is closed with one of the race close codes.
func (s *Server) RaceWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{raceSubprotocol},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != raceSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the race subprotocol")
		return
	}

	username, err := auth.Authenticate(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "authentication failed")
		return
	}
	l, ok := s.Lobbies.Get(mux.Vars(r)["code"])
	if !ok {
		c.Close(InvalidLobbyIDError, "lobby does not exist")
		return
	}
	code := l.Code
	if !l.Has(username) {
		c.Close(NotInLobbyError, "not a member of this lobby")
		return
	}
	if l.Status() != lobby.StatusInGame {
		c.Close(RaceNotStartedError, game.ErrRaceNotStarted.Reason)
		return
	}
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ns := s.Race.Namespace()
	topics := append(broadcast.LobbyTopics(ns, code), broadcast.UserTopic(ns, code, username))
	sub := s.Hub.Subscribe(outBufferSize, topics...)
	defer s.Hub.Unsubscribe(sub)

	go writePump(ctx, cancel, c, sub.OutChan, s.Logger)

	log := s.Logger.WithFields(logrus.Fields{"lobby": code, "username": username})
	if _, err := s.Race.Join(ctx, code, username); err != nil {
		log.WithError(err).Warn("race join rejected")
		sendError(ctx, c, ns, code, username, err)
		c.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	readErr := readPump(ctx, c, s.Race, l, username, log)

	s.Race.Disconnect(context.WithoutCancel(ctx), code, username)
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, readErr)
	if readErr == nil {
		c.Close(websocket.StatusNormalClosure, "left race")
	}
}

// readPump decodes client frames into commands until the client leaves or
// the connection fails. Rejections go back to this client only. A join
// command re-enters the lobby's current race, which is how a connected
// player picks up a rematch.
func readPump(ctx context.Context, c *websocket.Conn, race *game.Service, l *lobby.Lobby, username string, log *logrus.Entry) error {
	ns, code := race.Namespace(), l.Code
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			log.Debug("ignoring non-text frame")
			continue
		}

		cmd, err := game.DecodeCommand(username, data)
		if err != nil {
			sendError(ctx, c, ns, code, username, err)
			continue
		}
		if _, joining := cmd.(game.JoinCommand); joining && l.Status() != lobby.StatusInGame {
			sendError(ctx, c, ns, code, username, game.ErrRaceNotStarted)
			continue
		}
		if err := race.Handle(ctx, code, cmd); err != nil {
			log.WithError(err).Debug("command rejected")
			sendError(ctx, c, ns, code, username, err)
		}
		if _, leaving := cmd.(game.LeaveCommand); leaving {
			return nil
		}
	}
}

// writePump forwards hub frames to the socket and keeps the connection alive
// with pings. Any write failure cancels the connection context.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, out <-chan []byte, logger *logrus.Logger) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-out:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				logger.Debugf("write pump stopping: %v", err)
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			pcancel()
			if err != nil {
				logger.Debugf("ping failed: %v", err)
				return
			}
		}
	}
}

// sendError writes an error event straight to c, wrapped like every other
// frame on the player's private topic.
func sendError(ctx context.Context, c *websocket.Conn, ns, code, username string, err error) {
	ev := models.ErrorEvent{
		Type:    models.EventError,
		Kind:    string(game.KindValidation),
		Message: err.Error(),
	}
	var ge *game.Error
	if errors.As(err, &ge) {
		ev.Kind = string(ge.Kind)
		if ge.Reason != "" {
			ev.Message = ge.Reason
		}
	}
	data, merr := json.Marshal(ev)
	if merr != nil {
		return
	}
	frame, merr := json.Marshal(broadcast.Envelope{
		Topic: broadcast.UserTopic(ns, code, username),
		Data:  data,
	})
	if merr != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	_ = c.Write(wctx, websocket.MessageText, frame)
}
