// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jason-s-yu/mazerush/internal/broadcast"
	"github.com/jason-s-yu/mazerush/internal/database"
	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/lobby"
	"github.com/jason-s-yu/mazerush/internal/middleware"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/sirupsen/logrus"
)

// StatsReader serves aggregated player statistics.
type StatsReader interface {
	GetPlayerStats(ctx context.Context, username string) (database.PlayerStats, error)
}

// Server holds everything the HTTP and websocket handlers need.
type Server struct {
	Lobbies *lobby.Store
	Race    *game.Service
	Hub     *broadcast.Hub
	Stats   StatsReader
	Logger  *logrus.Logger
}

// NewServer ties the lobby lifecycle to the race service: starting a lobby
// prepares its maze, and a completed race puts the lobby back to waiting.
func NewServer(lobbies *lobby.Store, race *game.Service, hub *broadcast.Hub, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	lobbies.OnStart(func(l *lobby.Lobby) error {
		_, err := race.PrepareMatch(context.Background(), l.Code, l.MazeSize)
		return err
	})
	race.OnAllFinished(func(code string, _ []models.RaceResult) {
		lobbies.Finish(code)
	})
	return &Server{
		Lobbies: lobbies,
		Race:    race,
		Hub:     hub,
		Logger:  logger,
	}
}

// NewRouter registers every route on a gorilla/mux router wrapped in request
// logging.
func NewRouter(s *Server) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/auth/guest", s.GuestLogin).Methods("POST")

	r.HandleFunc("/lobby/create", s.CreateLobby).Methods("POST")
	r.HandleFunc("/lobby/list", s.ListLobbies).Methods("GET")
	r.HandleFunc("/lobby/{code}", s.GetLobby).Methods("GET")
	r.HandleFunc("/lobby/{code}/join", s.JoinLobby).Methods("POST")
	r.HandleFunc("/lobby/{code}/leave", s.LeaveLobby).Methods("POST")
	r.HandleFunc("/lobby/{code}/ready", s.ToggleReady).Methods("POST")
	r.HandleFunc("/lobby/{code}/start", s.StartLobby).Methods("POST")

	r.HandleFunc("/race/ws/{code}", s.RaceWS).Methods("GET")
	r.HandleFunc("/stats/{username}", s.PlayerStats).Methods("GET")

	return middleware.LogMiddleware(s.Logger)(r)
}
