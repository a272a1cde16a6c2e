package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		wantType MessageType
		wantStep SyncStep
		payload  []byte
		wantErr  error
	}{
		{name: "sync step1", frame: []byte{0, 0, 9, 9}, wantType: MessageTypeSync, wantStep: SyncStep1, payload: []byte{9, 9}},
		{name: "sync step2 empty", frame: []byte{0, 1}, wantType: MessageTypeSync, wantStep: SyncStep2, payload: []byte{}},
		{name: "sync update", frame: []byte{0, 2, 1, 2}, wantType: MessageTypeSync, wantStep: SyncUpdate, payload: []byte{1, 2}},
		{name: "awareness", frame: []byte{1, 5, 6}, wantType: MessageTypeAwareness, payload: []byte{5, 6}},
		{name: "auth", frame: []byte{2, 7}, wantType: MessageTypeAuth, payload: []byte{7}},
		{name: "query awareness", frame: []byte{3}, wantType: MessageTypeQueryAwareness, payload: []byte{}},
		{name: "empty", frame: []byte{}, wantErr: ErrEmptyFrame},
		{name: "short sync", frame: []byte{0}, wantType: MessageTypeSync, wantErr: ErrShortSync},
		{name: "unknown sync step", frame: []byte{0, 7, 1}, wantType: MessageTypeSync, wantStep: 7, payload: []byte{1}, wantErr: ErrUnknownSyncStep},
		{name: "unknown type", frame: []byte{42, 1}, wantType: 42, payload: []byte{1}, wantErr: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.frame)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantStep, msg.SyncStep)
			if tt.payload != nil {
				assert.Equal(t, tt.payload, msg.Payload)
			}
		})
	}
}

func TestEncodeUpdate(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x02, 0x01, 0x02}, EncodeUpdate([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x00, 0x01}, EncodeStep2(nil))
	assert.Equal(t, []byte{0x03, '[', ']'}, Encode(Message{Type: MessageTypeQueryAwareness, Payload: []byte("[]")}))
}

func TestDecodeEncodeFrame(t *testing.T) {
	frame := []byte{1, 0xde, 0xad}
	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, Encode(msg))
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "awareness", MessageTypeAwareness.String())
	assert.Equal(t, "unknown(9)", MessageType(9).String())
	assert.Equal(t, "update", SyncUpdate.String())
	assert.Equal(t, "unknown(5)", SyncStep(5).String())
}
