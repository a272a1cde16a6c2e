package ws

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrMissingRoom = errors.New("missing room id")
	ErrMissingUser = errors.New("missing userId")
)

// Handshake is the identity a client presents when it connects.
type Handshake struct {
	RoomID   string
	UserID   string
	UserName string
}

// ParseTarget reads the room id from the last path segment that is not
// reserved, and the identity from the userId and userName query values.
// A target such as /ws/yjs/42?userId=7&userName=Ann joins room 42.
func ParseTarget(u *url.URL, reserved []string) (Handshake, error) {
	var hs Handshake

	parts := strings.Split(u.Path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		part := strings.TrimSpace(parts[i])
		if part == "" || isReserved(part, reserved) {
			continue
		}
		hs.RoomID = part
		break
	}
	if hs.RoomID == "" {
		return hs, ErrMissingRoom
	}

	query := u.Query()
	hs.UserID = query.Get("userId")
	hs.UserName = query.Get("userName")
	if hs.UserID == "" {
		return hs, ErrMissingUser
	}
	return hs, nil
}

func isReserved(segment string, reserved []string) bool {
	for _, r := range reserved {
		if segment == r {
			return true
		}
	}
	return false
}
