package logic

import "fmt"

// Topics used to talk to the show player.
const (
	TopicPlayerRoot     = "fpp/falcon/player/FPP"
	TopicPlaylistStatus = TopicPlayerRoot + "/playlist/name/status"
	TopicPlaylistSet    = TopicPlayerRoot + "/set/playlist/#"
)

// FollowerSubscriptions lists the topics a follower listens on.
var FollowerSubscriptions = []string{TopicPlaylistStatus, TopicPlaylistSet}

// ParseRemote maps an inbound message to a button. Only a single digit
// '1'..'8' on the playlist status topic maps to a button; anything else
// yields Unknown.
func ParseRemote(topic, payload string) Button {
	if topic != TopicPlaylistStatus || len(payload) != 1 {
		return Unknown
	}
	c := payload[0]
	if c < '1' || c > '0'+byte(MaxButton) {
		return Unknown
	}
	return Button(c - '0')
}

// PressTopic is the topic a local-mode press publishes on.
func PressTopic(prefix string, b Button) string {
	return fmt.Sprintf("%s/b%d", prefix, b)
}

// PlaylistCommands returns the start and repeat commands for playlist b.
func PlaylistCommands(b Button) []Message {
	base := fmt.Sprintf("%s/set/playlist/%d", TopicPlayerRoot, b)
	return []Message{
		{Topic: base + "/start", Payload: ""},
		{Topic: base + "/repeat", Payload: "1"},
	}
}
