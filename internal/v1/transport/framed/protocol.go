// Package framed is the persistent length-prefixed binary adapter:
// 4-byte big-endian length prefix, JSON payloads, an ephemeral X25519
// handshake, and a per-connection AES-256-GCM envelope once keys have been
// exchanged. It shares the command table and event encoding with the
// WebSocket adapter via internal/v1/transport/command and
// internal/v1/transport/wire.
package framed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ProtocolVersion is carried in server_hello/client_hello frames.
	ProtocolVersion = "1.0"

	// ServerName identifies this server in server_hello.
	ServerName = "lair-chat-server"

	// MaxFrameSize is the maximum frame payload in bytes.
	// A frame announcing more than this terminates the connection.
	MaxFrameSize = 1 << 20
)

// ErrFrameTooLarge is returned by readFrame when the announced payload
// length exceeds MaxFrameSize. The connection must be closed without
// reading the payload.
var ErrFrameTooLarge = errors.New("framed: frame exceeds maximum payload size")

// serverHello is the first frame on every connection, sent by the server.
type serverHello struct {
	Type            string `json:"type"`
	Version         string `json:"version"`
	ServerName      string `json:"server_name"`
	EphemeralPubkey string `json:"ephemeral_pubkey"`
}

// clientHello is the client's reply. EphemeralPubkey is
// optional: absent, the connection stays plaintext (test mode only).
type clientHello struct {
	Type            string `json:"type"`
	Version         string `json:"version"`
	ClientName      string `json:"client_name"`
	EphemeralPubkey string `json:"ephemeral_pubkey,omitempty"`
}

// readFrame reads one length-prefixed payload. It returns ErrFrameTooLarge
// without consuming the payload when the prefix announces more than max.
func readFrame(r io.Reader, max uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > max {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framed: short frame payload: %w", err)
	}
	return payload, nil
}

// writeFrame writes one length-prefixed payload.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
