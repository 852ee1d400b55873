// internal/broadcast/broadcast.go

// Package broadcast is the publish/subscribe transport the race core talks
// to. Topics are opaque strings of the form <namespace>/<lobby>/<channel>.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"
)

// Channels within a lobby's topic space.
const (
	ChannelEvents = "events"
	ChannelMove   = "move"
	ChannelSync   = "sync"
)

// Publisher delivers payload to every subscriber of topic. Implementations
// must not block on a slow subscriber.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Topic builds "<namespace>/<lobby>/<channel>".
func Topic(namespace, lobby, channel string) string {
	return namespace + "/" + lobby + "/" + channel
}

// UserTopic is the private sync topic of one player in a lobby.
func UserTopic(namespace, lobby, username string) string {
	return Topic(namespace, lobby, ChannelSync) + "/" + username
}

// LobbyTopics lists the shared topics a client in lobby listens on.
func LobbyTopics(namespace, lobby string) []string {
	return []string{
		Topic(namespace, lobby, ChannelEvents),
		Topic(namespace, lobby, ChannelMove),
		Topic(namespace, lobby, ChannelSync),
	}
}

// SplitTopic returns the lobby and channel of a topic under namespace.
func SplitTopic(namespace, topic string) (lobby, channel string, ok bool) {
	rest, found := strings.CutPrefix(topic, namespace+"/")
	if !found {
		return "", "", false
	}
	lobby, channel, found = strings.Cut(rest, "/")
	if !found || lobby == "" || channel == "" {
		return "", "", false
	}
	return lobby, channel, true
}

// Envelope is the frame written to websocket clients so they can tell
// channels apart.
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
