package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Channel is the message type telling a peer to reload its settings.
const Channel = "reload-config"

const maxMessageSize = 64 * 1024

// Message is one frame on the bridge.
type Message struct {
	// Type is the channel name; only Channel is acted on.
	Type string `json:"type"`
	// Sender is the ID of the bridge that originated the message.
	Sender string `json:"sender"`
	// ID identifies the message for logging.
	ID string `json:"id"`
	// Time is when the message was sent.
	Time time.Time `json:"time"`
}

// WriteMsg writes v as a frame: a 4-byte little-endian length header
// followed by the JSON payload. Header and payload go out in one Write.
func WriteMsg(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMsg reads one frame written by WriteMsg into v.
func ReadMsg(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	size := binary.LittleEndian.Uint32(header)
	if size > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	return json.Unmarshal(data, v)
}
