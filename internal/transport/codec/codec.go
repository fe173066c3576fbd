// Package codec frames output packets for the binary monitor transport.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Version1 sends the raw payload with no header.
	Version1 = 1
	// Version2 uses a 20-byte header carrying kind, stream index, pts and
	// size.
	Version2 = 2
	// Version3 uses a compact 4-byte header with kind, index and size.
	Version3 = 3

	headerSizeV2 = 20
	headerSizeV3 = 4
)

// PayloadKind describes the payload category.
type PayloadKind uint8

const (
	// PayloadKindAudio is encoded audio.
	PayloadKindAudio PayloadKind = iota
	// PayloadKindCaps is a JSON caps description.
	PayloadKindCaps
)

var (
	errShort       = errors.New("frame too short")
	errPayloadSize = errors.New("invalid payload size")
)

// Frame is one decoded transport frame. PTSMillis is zero for versions
// that do not carry it.
type Frame struct {
	Kind      PayloadKind
	Index     int
	PTSMillis int64
	Payload   []byte
}

// NormalizeVersion returns a supported protocol version.
func NormalizeVersion(version int) int {
	switch version {
	case Version2, Version3:
		return version
	default:
		return Version1
	}
}

// Decode parses a binary frame according to protocol version.
func Decode(version int, data []byte) (Frame, error) {
	switch NormalizeVersion(version) {
	case Version2:
		return decodeV2(data)
	case Version3:
		return decodeV3(data)
	default:
		return Frame{Kind: PayloadKindAudio, Payload: data}, nil
	}
}

// Pack creates a binary frame according to protocol version.
func Pack(version int, f Frame) ([]byte, error) {
	switch NormalizeVersion(version) {
	case Version2:
		return packV2(f)
	case Version3:
		return packV3(f)
	default:
		if f.Kind != PayloadKindAudio {
			return nil, fmt.Errorf("v1: cannot carry payload kind %d", f.Kind)
		}
		return f.Payload, nil
	}
}

func checkKind(kind PayloadKind) error {
	switch kind {
	case PayloadKindAudio, PayloadKindCaps:
		return nil
	default:
		return fmt.Errorf("unsupported payload kind %d", kind)
	}
}

func decodeV2(data []byte) (Frame, error) {
	if len(data) < headerSizeV2 {
		return Frame{}, fmt.Errorf("v2: %w", errShort)
	}
	if v := binary.BigEndian.Uint16(data[0:2]); v != Version2 {
		return Frame{}, fmt.Errorf("v2: unexpected version %d", v)
	}
	kind := PayloadKind(binary.BigEndian.Uint16(data[2:4]))
	if err := checkKind(kind); err != nil {
		return Frame{}, fmt.Errorf("v2: %w", err)
	}
	size := binary.BigEndian.Uint32(data[16:20])
	if int64(size) > int64(len(data)-headerSizeV2) {
		return Frame{}, fmt.Errorf("v2: %w", errPayloadSize)
	}
	return Frame{
		Kind:      kind,
		Index:     int(binary.BigEndian.Uint32(data[4:8])),
		PTSMillis: int64(binary.BigEndian.Uint64(data[8:16])),
		Payload:   data[headerSizeV2 : headerSizeV2+int(size)],
	}, nil
}

func decodeV3(data []byte) (Frame, error) {
	if len(data) < headerSizeV3 {
		return Frame{}, fmt.Errorf("v3: %w", errShort)
	}
	kind := PayloadKind(data[0])
	if err := checkKind(kind); err != nil {
		return Frame{}, fmt.Errorf("v3: %w", err)
	}
	size := binary.BigEndian.Uint16(data[2:4])
	if int(size) > len(data)-headerSizeV3 {
		return Frame{}, fmt.Errorf("v3: %w", errPayloadSize)
	}
	return Frame{
		Kind:    kind,
		Index:   int(data[1]),
		Payload: data[headerSizeV3 : headerSizeV3+int(size)],
	}, nil
}

func packV2(f Frame) ([]byte, error) {
	if err := checkKind(f.Kind); err != nil {
		return nil, fmt.Errorf("v2: %w", err)
	}
	if f.Index < 0 || int64(f.Index) > math.MaxUint32 || int64(len(f.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("v2: index or payload out of range")
	}
	out := make([]byte, headerSizeV2, headerSizeV2+len(f.Payload))
	binary.BigEndian.PutUint16(out[0:2], Version2)
	binary.BigEndian.PutUint16(out[2:4], uint16(f.Kind))
	binary.BigEndian.PutUint32(out[4:8], uint32(f.Index))
	binary.BigEndian.PutUint64(out[8:16], uint64(f.PTSMillis))
	binary.BigEndian.PutUint32(out[16:20], uint32(len(f.Payload)))
	return append(out, f.Payload...), nil
}

func packV3(f Frame) ([]byte, error) {
	if err := checkKind(f.Kind); err != nil {
		return nil, fmt.Errorf("v3: %w", err)
	}
	if f.Index < 0 || f.Index > math.MaxUint8 {
		return nil, fmt.Errorf("v3: stream index %d out of range", f.Index)
	}
	if len(f.Payload) > math.MaxUint16 {
		return nil, fmt.Errorf("v3: %w: %d bytes", errPayloadSize, len(f.Payload))
	}
	out := make([]byte, headerSizeV3, headerSizeV3+len(f.Payload))
	out[0] = byte(f.Kind)
	out[1] = byte(f.Index)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(f.Payload)))
	return append(out, f.Payload...), nil
}
