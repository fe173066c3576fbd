package ws

import (
	"github.com/saker-ai/audiosync/internal/group"
	"github.com/saker-ai/audiosync/pkg/audio"
)

// Message is the envelope of every JSON text message.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type incomingMessage struct {
	Type    string `json:"type"`
	Index   *int   `json:"index,omitempty"`
	Group   string `json:"group,omitempty"`
	Drop    bool   `json:"drop,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

// CapsPayload is sent as a caps frame before the first audio frame of a
// stream and whenever its caps change.
type CapsPayload struct {
	ID        string     `json:"id"`
	Index     int        `json:"index"`
	Caps      audio.Caps `json:"caps"`
	Encoding  string     `json:"encoding"`
	Rate      int        `json:"rate"`
	FrameMs   int        `json:"frame_ms,omitempty"`
	Transport int        `json:"transport"`
}

// LevelPayload reports the RMS level of one emitted packet.
type LevelPayload struct {
	ID      string  `json:"id"`
	Index   int     `json:"index"`
	PTSMs   int64   `json:"pts_ms"`
	Samples int     `json:"samples"`
	Level   float64 `json:"level"`
}

// StreamsPayload answers fetch-streams.
type StreamsPayload struct {
	Groups []group.Snapshot `json:"groups"`
}

// Encodings of audio frames.
const (
	EncodingOpus = "opus"
	EncodingPCM  = "pcm"
)
