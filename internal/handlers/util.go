package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/lobby"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps lobby and race errors onto HTTP statuses.
func statusFor(err error) int {
	switch lobby.KindOf(err) {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindCapacity, game.KindConflict, game.KindNotActive:
		return http.StatusConflict
	case game.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
