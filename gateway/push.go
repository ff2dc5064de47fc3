package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/goSession/session"
)

// PushKind tags a [PushEvent].
type PushKind string

const (
	PushSignedIn       PushKind = "signed_in"
	PushSignedOut      PushKind = "signed_out"
	PushTokenRefreshed PushKind = "token_refreshed"
	PushProfileUpdated PushKind = "profile_updated"
)

// Valid reports whether k is a known kind.
func (k PushKind) Valid() bool {
	switch k {
	case PushSignedIn, PushSignedOut, PushTokenRefreshed, PushProfileUpdated:
		return true
	}
	return false
}

// PushEvent is an unsolicited session change reported by the provider.
//
// Sequence orders events from one provider. Zero means unsequenced; such
// events are applied in arrival order.
type PushEvent struct {
	Kind     PushKind         `json:"kind"`
	Sequence uint64           `json:"seq,omitempty"`
	Session  *Grant           `json:"session,omitempty"`
	Profile  *session.Profile `json:"profile,omitempty"`
}

// DecodePushEvent parses the JSON wire form used by push sources.
func DecodePushEvent(data []byte) (PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return PushEvent{}, fmt.Errorf("decode push event: %w", err)
	}
	if !ev.Kind.Valid() {
		return PushEvent{}, fmt.Errorf("decode push event: unknown kind %q", ev.Kind)
	}
	if ev.Kind == PushSignedIn && (ev.Session == nil || ev.Session.Token == "") {
		return PushEvent{}, fmt.Errorf("decode push event: %s without session", ev.Kind)
	}
	return ev, nil
}

// EncodePushEvent renders ev in the wire form accepted by [DecodePushEvent].
func EncodePushEvent(ev PushEvent) ([]byte, error) {
	return json.Marshal(ev)
}
