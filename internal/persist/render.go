package persist

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// Renderer turns a room's opaque update log into the content handed to the
// content store. The server cannot interpret the updates itself, so a real
// deployment plugs in a renderer that understands the client encoding.
type Renderer interface {
	Render(ctx context.Context, roomID string, updates [][]byte) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, roomID string, updates [][]byte) (string, error)

func (f RendererFunc) Render(ctx context.Context, roomID string, updates [][]byte) (string, error) {
	return f(ctx, roomID, updates)
}

var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// CheckpointRenderer stores the raw log: every update prefixed by its
// 4-byte big-endian length, base64 encoded.
type CheckpointRenderer struct{}

func (CheckpointRenderer) Render(_ context.Context, _ string, updates [][]byte) (string, error) {
	return base64.StdEncoding.EncodeToString(frameUpdates(updates)), nil
}

func frameUpdates(updates [][]byte) []byte {
	totalSize := 0
	for _, update := range updates {
		totalSize += len(update) + 4
	}

	framed := make([]byte, 0, totalSize)
	for _, update := range updates {
		framed = binary.BigEndian.AppendUint32(framed, uint32(len(update)))
		framed = append(framed, update...)
	}
	return framed
}

// DecodeCheckpoint reverses CheckpointRenderer.
func DecodeCheckpoint(content string) ([][]byte, error) {
	framed, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, errors.Join(ErrCorruptCheckpoint, err)
	}

	var updates [][]byte
	offset := 0
	for offset < len(framed) {
		if offset+4 > len(framed) {
			return nil, ErrCorruptCheckpoint
		}
		length := int(binary.BigEndian.Uint32(framed[offset:]))
		offset += 4
		if offset+length > len(framed) {
			return nil, ErrCorruptCheckpoint
		}

		update := make([]byte, length)
		copy(update, framed[offset:offset+length])
		updates = append(updates, update)
		offset += length
	}
	return updates, nil
}
