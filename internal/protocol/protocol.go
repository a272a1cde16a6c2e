package protocol

import (
	"errors"
	"fmt"
)

// Represents the type of a y-websocket frame
type MessageType byte

const (
	// Used for Yjs sync protocol messages
	MessageTypeSync MessageType = 0

	// Used for awareness protocol messages (cursors, presence)
	MessageTypeAwareness MessageType = 1

	// Used for authentication messages
	MessageTypeAuth MessageType = 2

	// Used by clients asking who else is in the room
	MessageTypeQueryAwareness MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeSync:
		return "sync"
	case MessageTypeAwareness:
		return "awareness"
	case MessageTypeAuth:
		return "auth"
	case MessageTypeQueryAwareness:
		return "query_awareness"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// SyncStep represents the step in the Yjs sync protocol
type SyncStep byte

const (
	// Client sends state vector
	SyncStep1 SyncStep = 0

	// Server responds with missing updates
	SyncStep2 SyncStep = 1

	// Regular update broadcast
	SyncUpdate SyncStep = 2
)

func (s SyncStep) String() string {
	switch s {
	case SyncStep1:
		return "step1"
	case SyncStep2:
		return "step2"
	case SyncUpdate:
		return "update"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// Decode errors. None of them are fatal for the connection.
var (
	ErrEmptyFrame      = errors.New("empty frame")
	ErrShortSync       = errors.New("sync frame shorter than 2 bytes")
	ErrUnknownType     = errors.New("unknown message type")
	ErrUnknownSyncStep = errors.New("unknown sync step")
)

// Message is one decoded frame. SyncStep is only meaningful for sync frames.
type Message struct {
	Type     MessageType
	SyncStep SyncStep
	Payload  []byte
}

// Decode splits a frame into its header and payload. The payload aliases data.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyFrame
	}

	msg := Message{Type: MessageType(data[0])}

	switch msg.Type {
	case MessageTypeSync:
		if len(data) < 2 {
			return Message{Type: msg.Type}, ErrShortSync
		}
		msg.SyncStep = SyncStep(data[1])
		msg.Payload = data[2:]
		if msg.SyncStep > SyncUpdate {
			return msg, fmt.Errorf("%w: %d", ErrUnknownSyncStep, data[1])
		}
		return msg, nil
	case MessageTypeAwareness, MessageTypeAuth, MessageTypeQueryAwareness:
		msg.Payload = data[1:]
		return msg, nil
	default:
		msg.Payload = data[1:]
		return msg, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
}

// Encode writes the frame header followed by the payload.
func Encode(msg Message) []byte {
	if msg.Type == MessageTypeSync {
		out := make([]byte, 0, len(msg.Payload)+2)
		out = append(out, byte(msg.Type), byte(msg.SyncStep))
		return append(out, msg.Payload...)
	}

	out := make([]byte, 0, len(msg.Payload)+1)
	out = append(out, byte(msg.Type))
	return append(out, msg.Payload...)
}

// EncodeUpdate frames an update blob as SYNC/UPDATE.
func EncodeUpdate(update []byte) []byte {
	return Encode(Message{Type: MessageTypeSync, SyncStep: SyncUpdate, Payload: update})
}

// EncodeStep2 frames catch-up data as SYNC/STEP2.
func EncodeStep2(payload []byte) []byte {
	return Encode(Message{Type: MessageTypeSync, SyncStep: SyncStep2, Payload: payload})
}
