// Package identity defines the descriptor attached to outgoing signaling
// events. The descriptor is supplied by a Source func so profile edits
// (config hot-reload) take effect without restarting anything.
package identity

// Descriptor identifies the local user on the signaling channel.
type Descriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Source supplies the current local identity.
type Source func() Descriptor
