package proto

import "time"

const (
	// PresenceTopic carries identity heartbeats for the peer roster.
	PresenceTopic = "parley.presence.v1"

	// CallRoomTopic is the shared broadcast room for call signaling.
	// Every subscribed peer receives every message published here;
	// recipient filtering is the subscriber's responsibility.
	CallRoomTopic = "parley.call.v1"

	MdnsTag = "parley-mdns"
)

const (
	TypeOnline  = "online"
	TypeUpdate  = "update"
	TypeOffline = "offline"
)

// PresenceMsg is the heartbeat published on PresenceTopic.
type PresenceMsg struct {
	Type          string `json:"type"` // online|update|offline
	PeerID        string `json:"peerId"`
	DisplayName   string `json:"displayName,omitempty"`
	Username      string `json:"username,omitempty"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	VideoDisabled bool   `json:"videoDisabled,omitempty"` // Peer has video calls disabled
	// Addrs carries the peer's dialable multiaddresses so roster peers
	// can be reached beyond the mDNS broadcast domain.
	Addrs []string `json:"addrs,omitempty"`
	TS    int64    `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
