// internal/handlers/lobby.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/mazerush/internal/auth"
	"github.com/jason-s-yu/mazerush/internal/lobby"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/sirupsen/logrus"
)

type guestLoginRequest struct {
	Username string `json:"username"`
}

// GuestLogin issues a token for a display name and stores it in the auth
// cookie. Accounts are not persisted.
func (s *Server) GuestLogin(w http.ResponseWriter, r *http.Request) {
	var req guestLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad login payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > 32 || strings.Contains(username, "/") {
		writeError(w, http.StatusBadRequest, "invalid display name")
		return
	}
	token, err := auth.CreateJWT(username)
	if err != nil {
		s.Logger.WithError(err).Error("failed to create guest token")
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "token": token})
}

// requireUser authenticates r, writing a 401 and returning false on failure.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, err := auth.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			writeError(w, http.StatusUnauthorized, "missing auth token")
		} else {
			writeError(w, http.StatusForbidden, "invalid token")
		}
		return "", false
	}
	return username, true
}

func (s *Server) lobbyFromPath(w http.ResponseWriter, r *http.Request) (*lobby.Lobby, bool) {
	l, ok := s.Lobbies.Get(mux.Vars(r)["code"])
	if !ok {
		writeErr(w, lobby.ErrLobbyNotFound)
		return nil, false
	}
	return l, true
}

type createLobbyRequest struct {
	MazeSize string `json:"mazeSize"`
}

// CreateLobby handles POST /lobby/create. The caller becomes host.
func (s *Server) CreateLobby(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad lobby request payload")
		return
	}
	l, err := s.Lobbies.Create(username, maze.ParseSizeClass(req.MazeSize))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l.View())
}

// ListLobbies handles GET /lobby/list.
func (s *Server) ListLobbies(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Lobbies.List())
}

func (s *Server) GetLobby(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireUser(w, r); !ok {
		return
	}
	l, ok := s.lobbyFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, l.View())
}

func (s *Server) JoinLobby(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	l, ok := s.lobbyFromPath(w, r)
	if !ok {
		return
	}
	if err := l.Join(username); err != nil {
		writeErr(w, err)
		return
	}
	s.Logger.WithFields(logrus.Fields{"lobby": l.Code, "username": username}).Info("joined lobby")
	writeJSON(w, http.StatusOK, l.View())
}

// LeaveLobby handles POST /lobby/{code}/leave. A member still in the race is
// removed from it as well.
func (s *Server) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	l, ok := s.lobbyFromPath(w, r)
	if !ok {
		return
	}
	if err := l.Leave(username); err != nil {
		writeErr(w, err)
		return
	}
	s.Race.Disconnect(context.WithoutCancel(r.Context()), l.Code, username)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ToggleReady(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	l, ok := s.lobbyFromPath(w, r)
	if !ok {
		return
	}
	ready, err := l.ToggleReady(username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

// StartLobby handles POST /lobby/{code}/start (host only).
func (s *Server) StartLobby(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	l, ok := s.lobbyFromPath(w, r)
	if !ok {
		return
	}
	if err := l.Start(username); err != nil {
		writeErr(w, err)
		return
	}
	s.Logger.WithField("lobby", l.Code).Info("race started")
	writeJSON(w, http.StatusOK, l.View())
}

// PlayerStats handles GET /stats/{username}.
func (s *Server) PlayerStats(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		writeError(w, http.StatusNotFound, "stats disabled")
		return
	}
	ps, err := s.Stats.GetPlayerStats(r.Context(), mux.Vars(r)["username"])
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no races recorded")
		return
	}
	if err != nil {
		s.Logger.WithError(err).Warn("failed to read player stats")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
