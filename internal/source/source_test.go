package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/thesyncim/gopus/container/ogg"

	"github.com/saker-ai/audiosync/pkg/audio"
)

func wavFile(format uint16, channels, rate, bits int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+3+1+8+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, format)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))
	// An odd-sized chunk that must be skipped with its pad byte.
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{1, 2, 3, 0})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestWAVPackets(t *testing.T) {
	const samples = WAVPacketSamples + 10
	data := make([]byte, samples*4)
	for i := range data {
		data[i] = byte(i)
	}
	w, err := NewWAV(bytes.NewReader(wavFile(wavFormatPCM, 2, 22050, 16, data)))
	if err != nil {
		t.Fatalf("NewWAV: %v", err)
	}
	p := w.Params()
	if p.Codec != "pcm" || p.Format != audio.SampleFormatS16 || p.Layout != audio.LayoutStereo || p.Rate != 22050 {
		t.Fatalf("params=%+v", p)
	}
	if tb := w.TimeBase(); tb.Den != 22050 {
		t.Fatalf("timebase=%v", tb)
	}

	first, err := w.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(first.Data) != WAVPacketSamples*4 || first.PTS != 0 {
		t.Fatalf("first=%d bytes pts %d", len(first.Data), first.PTS)
	}
	second, err := w.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(second.Data) != 40 || second.PTS != WAVPacketSamples {
		t.Fatalf("second=%d bytes pts %d", len(second.Data), second.PTS)
	}
	if !bytes.Equal(second.Data, data[WAVPacketSamples*4:]) {
		t.Fatal("second packet payload mismatch")
	}
	if w.Position() != samples {
		t.Fatalf("Position=%d, want %d", w.Position(), samples)
	}
	if _, err := w.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestWAVFormats(t *testing.T) {
	cases := []struct {
		format uint16
		bits   int
		want   audio.SampleFormat
	}{
		{wavFormatPCM, 8, audio.SampleFormatU8},
		{wavFormatPCM, 24, audio.SampleFormatS32},
		{wavFormatPCM, 32, audio.SampleFormatS32},
		{wavFormatFloat, 32, audio.SampleFormatFlt},
		{wavFormatFloat, 64, audio.SampleFormatDbl},
	}
	for _, tc := range cases {
		data := make([]byte, tc.bits/8*4)
		w, err := NewWAV(bytes.NewReader(wavFile(tc.format, 1, 8000, tc.bits, data)))
		if err != nil {
			t.Fatalf("NewWAV(%d, %d): %v", tc.format, tc.bits, err)
		}
		if w.Params().Format != tc.want {
			t.Fatalf("format(%d, %d)=%s, want %s", tc.format, tc.bits, w.Params().Format, tc.want)
		}
	}
	if _, err := NewWAV(bytes.NewReader(wavFile(wavFormatPCM, 1, 8000, 12, nil))); err == nil {
		t.Fatal("12-bit PCM accepted")
	}
	if _, err := NewWAV(bytes.NewReader([]byte("RIFX0000WAVE"))); err == nil {
		t.Fatal("non-RIFF container accepted")
	}
}

func TestWAV24BitWidened(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xff, 0xff, 0xff}
	w, err := NewWAV(bytes.NewReader(wavFile(wavFormatPCM, 1, 8000, 24, data)))
	if err != nil {
		t.Fatalf("NewWAV: %v", err)
	}
	pkt, err := w.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	want := []byte{0, 0x01, 0x02, 0x03, 0, 0xff, 0xff, 0xff}
	if !bytes.Equal(pkt.Data, want) {
		t.Fatalf("data=%v, want %v", pkt.Data, want)
	}
}

func oggPage(headerType byte, granule int64, seq uint32, packets ...[]byte) []byte {
	return oggSerialPage(1, headerType, granule, seq, packets...)
}

func oggSerialPage(serial uint32, headerType byte, granule int64, seq uint32, packets ...[]byte) []byte {
	page := &ogg.Page{
		HeaderType:   headerType,
		GranulePos:   uint64(granule),
		SerialNumber: serial,
		PageSequence: seq,
	}
	for _, p := range packets {
		page.Segments = append(page.Segments, ogg.BuildSegmentTable(len(p))...)
		page.Payload = append(page.Payload, p...)
	}
	return page.Encode()
}

func opusHead(preSkip uint16, rate uint32) []byte {
	head := []byte("OpusHead")
	head = append(head, 1, 1)
	head = binary.LittleEndian.AppendUint16(head, preSkip)
	head = binary.LittleEndian.AppendUint32(head, rate)
	return append(head, 0, 0, 0)
}

var (
	opusTags = []byte("OpusTags\x00\x00\x00\x00\x00\x00\x00\x00")
	// CELT 20 ms, one frame per packet.
	celt20 = []byte{31 << 3, 0xaa, 0xbb}
)

func TestOggOpusTimestamps(t *testing.T) {
	var file bytes.Buffer
	file.Write(oggPage(ogg.PageFlagBOS, 0, 0, opusHead(312, 16000)))
	file.Write(oggPage(0, 0, 1, opusTags))
	file.Write(oggPage(0, 1920, 2, celt20, celt20))
	file.Write(oggPage(ogg.PageFlagEOS, 2880, 3, celt20))

	src, err := NewOggOpus(&file)
	if err != nil {
		t.Fatalf("NewOggOpus: %v", err)
	}
	p := src.Params()
	if p.Codec != "opus" || p.Rate != 48000 || p.Layout != audio.LayoutMono {
		t.Fatalf("params=%+v", p)
	}
	if head := src.Head(); head.SampleRate != 16000 || head.PreSkip != 312 {
		t.Fatalf("head=%+v", head)
	}
	if src.Tags() == nil {
		t.Fatal("OpusTags not parsed")
	}
	for i, want := range []int64{-312, 648, 1608} {
		pkt, err := src.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		if pkt.PTS != want {
			t.Fatalf("packet %d pts=%d, want %d", i, pkt.PTS, want)
		}
	}
	if src.Position() != 2568 {
		t.Fatalf("Position=%d, want 2568", src.Position())
	}
	if _, err := src.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestOggPacketSpanningPages(t *testing.T) {
	big := make([]byte, 600)
	big[0] = 31 << 3
	for i := 1; i < len(big); i++ {
		big[i] = byte(i)
	}
	// First page carries 510 bytes as two 255 segments, the rest follows.
	first := &ogg.Page{SerialNumber: 1, PageSequence: 2, Segments: []byte{255, 255}, Payload: big[:510], GranulePos: ^uint64(0)}
	second := &ogg.Page{
		HeaderType:   ogg.PageFlagContinuation,
		SerialNumber: 1,
		PageSequence: 3,
		GranulePos:   960,
		Segments:     append([]byte{90}, ogg.BuildSegmentTable(len(celt20))...),
		Payload:      append(append([]byte{}, big[510:]...), celt20...),
	}

	var file bytes.Buffer
	file.Write(oggPage(ogg.PageFlagBOS, 0, 0, opusHead(0, 48000)))
	file.Write(oggPage(0, 0, 1, opusTags))
	file.Write(first.Encode())
	file.Write(second.Encode())

	src, err := NewOggOpus(&file)
	if err != nil {
		t.Fatalf("NewOggOpus: %v", err)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data, big) {
		t.Fatalf("joined packet has %d bytes, want %d", len(pkt.Data), len(big))
	}
	pkt, err = src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data, celt20) || pkt.PTS != 960 {
		t.Fatalf("second packet=%v pts %d", pkt.Data, pkt.PTS)
	}
}

func TestOggFollowsFirstStream(t *testing.T) {
	var file bytes.Buffer
	file.Write(oggPage(ogg.PageFlagBOS, 0, 0, opusHead(0, 48000)))
	file.Write(oggSerialPage(7, ogg.PageFlagBOS, 0, 0, []byte("OtherHead")))
	file.Write(oggPage(0, 0, 1, opusTags))
	file.Write(oggSerialPage(7, 0, 0, 1, []byte{0xde, 0xad}))
	file.Write(oggPage(ogg.PageFlagEOS, 960, 2, celt20))

	src, err := NewOggOpus(&file)
	if err != nil {
		t.Fatalf("NewOggOpus: %v", err)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data, celt20) {
		t.Fatalf("data=%v, want %v", pkt.Data, celt20)
	}
	if _, err := src.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestOggResyncsAfterGarbage(t *testing.T) {
	var file bytes.Buffer
	file.WriteString("junk before the stream")
	file.Write(oggPage(ogg.PageFlagBOS, 0, 0, opusHead(0, 48000)))
	file.Write(oggPage(0, 0, 1, opusTags))
	file.WriteString("garbage between pages")
	file.Write(oggPage(0, 960, 2, celt20))
	// Truncated trailing page.
	tail := oggPage(ogg.PageFlagEOS, 1920, 3, celt20)
	file.Write(tail[:len(tail)-2])

	src, err := NewOggOpus(&file)
	if err != nil {
		t.Fatalf("NewOggOpus: %v", err)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if !bytes.Equal(pkt.Data, celt20) || pkt.PTS != 0 {
		t.Fatalf("packet=%v pts %d", pkt.Data, pkt.PTS)
	}
	if _, err := src.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestOggBadChecksum(t *testing.T) {
	bad := oggPage(0, 960, 2, celt20)
	bad[len(bad)-1] ^= 0xff

	var file bytes.Buffer
	file.Write(oggPage(ogg.PageFlagBOS, 0, 0, opusHead(0, 48000)))
	file.Write(oggPage(0, 0, 1, opusTags))
	file.Write(bad)
	file.Write(oggPage(ogg.PageFlagEOS, 1920, 3, celt20))

	src, err := NewOggOpus(&file)
	if err != nil {
		t.Fatalf("NewOggOpus: %v", err)
	}
	if _, err := src.ReadPacket(); !errors.Is(err, ogg.ErrBadCRC) {
		t.Fatalf("err=%v, want ErrBadCRC", err)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket after bad page: %v", err)
	}
	if !bytes.Equal(pkt.Data, celt20) {
		t.Fatalf("data=%v, want %v", pkt.Data, celt20)
	}
}

func TestOggWithoutHead(t *testing.T) {
	if _, err := NewOggOpus(bytes.NewReader(oggPage(ogg.PageFlagBOS, 0, 0, []byte{1, 2, 3}))); err == nil {
		t.Fatal("stream without OpusHead accepted")
	}
	if _, err := NewOggOpus(bytes.NewReader(nil)); err == nil {
		t.Fatal("empty stream accepted")
	}
}

func TestPacketSamples(t *testing.T) {
	cases := []struct {
		data []byte
		want int
	}{
		{[]byte{0 << 3}, 480},
		{[]byte{3 << 3}, 2880},
		{[]byte{13 << 3}, 960},
		{[]byte{16 << 3}, 120},
		{[]byte{31<<3 | 1}, 1920},
		{[]byte{31<<3 | 3, 3}, 2880},
		{[]byte{31<<3 | 3}, 0},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := PacketSamples(tc.data); got != tc.want {
			t.Fatalf("PacketSamples(%v)=%d, want %d", tc.data, got, tc.want)
		}
	}
}

func flacFile(left, right []int16) []byte {
	n := len(left)
	out := []byte("fLaC")
	// Last metadata block, STREAMINFO, 34 bytes.
	out = append(out, 0x80, 0, 0, 34)
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	out = append(out, 0, 0, 0, 0, 0, 0)
	// 48000 Hz (20 bits), 2 channels (3 bits), 16 bits (5 bits), total samples (36 bits).
	var packed uint64 = 48000<<44 | 1<<41 | 15<<36 | uint64(n)
	out = binary.BigEndian.AppendUint64(out, packed)
	out = append(out, make([]byte, 16)...)

	header := []byte{0xFF, 0xF8, 0x6A, 0x18, 0x00, byte(n - 1)}
	header = append(header, crc8(header))
	frame := append([]byte{}, header...)
	for _, ch := range [][]int16{left, right} {
		frame = append(frame, 0x02)
		for _, s := range ch {
			frame = binary.BigEndian.AppendUint16(frame, uint16(s))
		}
	}
	frame = binary.BigEndian.AppendUint16(frame, crc16(frame))
	return append(out, frame...)
}

func TestFLACPackets(t *testing.T) {
	left := make([]int16, 16)
	right := make([]int16, 16)
	for i := range left {
		left[i] = int16(i * 10)
		right[i] = int16(-i * 10)
	}
	src, err := NewFLAC(bytes.NewReader(flacFile(left, right)))
	if err != nil {
		t.Fatalf("NewFLAC: %v", err)
	}
	defer src.Close()
	p := src.Params()
	if p.Format != audio.SampleFormatS32P || p.Layout != audio.LayoutStereo || p.Rate != 48000 {
		t.Fatalf("params=%+v", p)
	}
	pkt, err := src.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if len(pkt.Data) != 16*4*2 || pkt.PTS != 0 {
		t.Fatalf("packet=%d bytes pts %d", len(pkt.Data), pkt.PTS)
	}
	got := int32(binary.LittleEndian.Uint32(pkt.Data[64+3*4:]))
	if got != int32(right[3])<<16 {
		t.Fatalf("right[3]=%d, want %d", got, int32(right[3])<<16)
	}
	if _, err := src.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v, want EOF", err)
	}
}

func TestMP3RejectsEmptyInput(t *testing.T) {
	if _, err := NewMP3(bytes.NewReader(nil)); err == nil {
		t.Fatal("empty mp3 accepted")
	}
}

func TestOpenByExtension(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "a.WAV")
	if err := os.WriteFile(wav, wavFile(wavFormatPCM, 1, 8000, 16, make([]byte, 8)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src, err := Open(wav)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	txt := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(txt); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v, want ErrUnsupported", err)
	}
}

func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
