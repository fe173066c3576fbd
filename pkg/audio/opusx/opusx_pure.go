//go:build !cgo

package opusx

import "github.com/godeps/opus"

func Backend() string {
	return "pure-godeps/opus"
}

type Application = opus.Application

const (
	AppVoIP  = opus.AppVoIP
	AppAudio = opus.AppAudio
)

type Encoder struct {
	enc *opus.Encoder
}

type Decoder struct {
	dec *opus.Decoder
}

func NewEncoder(sampleRate, channels int, app Application) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, app)
	if err != nil {
		return nil, err
	}
	return &Encoder{enc: enc}, nil
}

func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{dec: dec}, nil
}

func (e *Encoder) Encode(pcm []int16, data []byte) (int, error) {
	return e.enc.Encode(pcm, data)
}

func (e *Encoder) SetBitrate(bitrate int) error {
	return e.enc.SetBitrate(bitrate)
}

func (d *Decoder) Decode(data []byte, pcm []int16) (int, error) {
	return d.dec.Decode(data, pcm)
}

func (d *Decoder) DecodeFloat32(data []byte, pcm []float32) (int, error) {
	return d.dec.DecodeFloat32(data, pcm)
}
