// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the race handler.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Token rejected after the upgrade.
	InvalidLobbyIDError   websocket.StatusCode = 3003 // Lobby in the URL does not exist.
	NotInLobbyError       websocket.StatusCode = 3004 // Authenticated user is not a member of the lobby.
	RaceNotStartedError   websocket.StatusCode = 3005 // Lobby is still waiting for the host to start.
)
