package ws

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	reserved := []string{"yjs", "ws", "collaborative"}

	tests := []struct {
		name    string
		target  string
		want    Handshake
		wantErr error
	}{
		{
			name:   "yjs mount",
			target: "/ws/yjs/42?userId=7&userName=Ann",
			want:   Handshake{RoomID: "42", UserID: "7", UserName: "Ann"},
		},
		{
			name:   "collaborative mount with trailing slash",
			target: "/ws/collaborative/42/?userId=7",
			want:   Handshake{RoomID: "42", UserID: "7"},
		},
		{
			name:   "percent encoded values",
			target: "/ws/yjs/42?userId=kim%40corp&userName=%EA%B9%80%20%EC%9E%AC%ED%98%84",
			want:   Handshake{RoomID: "42", UserID: "kim@corp", UserName: "김 재현"},
		},
		{
			name:   "room is last unreserved segment",
			target: "/pages/42/ws?userId=7",
			want:   Handshake{RoomID: "42", UserID: "7"},
		},
		{
			name:    "only reserved segments",
			target:  "/ws/yjs?userId=7",
			wantErr: ErrMissingRoom,
		},
		{
			name:    "missing user",
			target:  "/ws/yjs/42?userName=Ann",
			want:    Handshake{RoomID: "42", UserName: "Ann"},
			wantErr: ErrMissingUser,
		},
		{
			name:    "empty user",
			target:  "/ws/yjs/42?userId=",
			want:    Handshake{RoomID: "42"},
			wantErr: ErrMissingUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.target)
			require.NoError(t, err)

			hs, err := ParseTarget(u, reserved)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.wantErr != ErrMissingRoom {
				assert.Equal(t, tt.want, hs)
			}
		})
	}
}
