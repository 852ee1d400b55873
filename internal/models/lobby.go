// internal/models/lobby.go
package models

// LobbyMember is a member of a waiting room as listed to clients.
type LobbyMember struct {
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
	IsReady  bool   `json:"isReady"`
}

// LobbyView is the JSON shape of a lobby returned by the HTTP API.
type LobbyView struct {
	Code       string        `json:"code"`
	Host       string        `json:"host"`
	Status     string        `json:"status"`
	MaxPlayers int           `json:"maxPlayers"`
	MazeSize   string        `json:"mazeSize"`
	Members    []LobbyMember `json:"members"`
}
