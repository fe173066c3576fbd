// Package ws serves the live packet monitor: websocket clients subscribe to
// stream indexes and receive each emitted packet as framed binary audio.
package ws

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/audiosync/internal/group"
	"github.com/saker-ai/audiosync/internal/monitor"
	"github.com/saker-ai/audiosync/internal/transport/codec"
	"github.com/saker-ai/audiosync/pkg/audio"
	"github.com/saker-ai/audiosync/pkg/stream"
)

const (
	writeTimeout = 2 * time.Second
	// sendQueueSize bounds the messages waiting for one session's writer.
	sendQueueSize = 64
)

// Options configure the hub.
type Options struct {
	// Version selects the binary framing, see codec.Version1..Version3.
	Version int
	// Opus encodes audio frames; otherwise packets are forwarded as PCM.
	Opus    bool
	Bitrate int
}

// Hub fans emitted packets out to websocket sessions.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	groups   *group.Manager
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session

	encMu    sync.Mutex
	encoders map[string]*monitor.Encoder
}

type session struct {
	id      string
	conn    *websocket.Conn
	logger  *zap.Logger
	hub     *Hub
	send    chan outgoing
	done    chan struct{}
	dropped atomic.Uint64

	mu       sync.Mutex
	all      bool
	indexes  map[int]struct{}
	levels   bool
	lastCaps map[string]audio.Caps
}

// outgoing is one queued websocket message: binary when data is set,
// JSON otherwise.
type outgoing struct {
	data []byte
	json any
}

// NewHub creates a hub. groups may be nil.
func NewHub(logger *zap.Logger, groups *group.Manager, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Version = codec.NormalizeVersion(opts.Version)
	return &Hub{
		logger:   logger,
		groups:   groups,
		opts:     opts,
		sessions: make(map[string]*session),
		encoders: make(map[string]*monitor.Encoder),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and serves one session until it closes.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &session{
		id:       uuid.NewString(),
		conn:     conn,
		logger:   h.logger,
		hub:      h,
		all:      true,
		indexes:  make(map[int]struct{}),
		lastCaps: make(map[string]audio.Caps),
		send:     make(chan outgoing, sendQueueSize),
		done:     make(chan struct{}),
	}
	h.register(sess)
	defer h.unregister(sess.id)
	go sess.writeLoop()
	defer close(sess.done)

	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.id),
		zap.Int("transport", h.opts.Version),
		zap.Bool("opus", h.opts.Opus),
	)
	sess.sendJSON(Message{Type: "hello", Payload: map[string]any{"session_id": sess.id, "transport": h.opts.Version}})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(Message{Type: "error", Payload: "invalid json"})
			continue
		}
		if msg.Type != "heartbeat" {
			sess.logger.Debug("ws incoming message",
				zap.String("session_id", sess.id),
				zap.String("type", msg.Type),
			)
		}
		sess.dispatchIncoming(ctx, msg)
	}
	sess.logger.Info("ws session closed",
		zap.String("session_id", sess.id),
		zap.Uint64("dropped", sess.dropped.Load()),
	)
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Publish forwards p to every subscribed session. It is meant to be called
// from a stream's OnPacket callback and is safe for concurrent use across
// streams. It never waits on the network: each session has its own writer
// and drops frames while its queue is full.
func (h *Hub) Publish(p stream.Packet) {
	targets := h.subscribers(p.Index)
	if len(targets) == 0 {
		return
	}

	payloads, info, err := h.encode(p)
	if err != nil {
		h.logger.Debug("monitor encode failed", zap.String("stream_id", p.ID), zap.Error(err))
		return
	}
	ptsMs := int64(0)
	if secs := p.PTSSeconds(); !math.IsNaN(secs) {
		ptsMs = int64(math.Round(secs * 1000))
	}

	for _, sess := range targets {
		sess.deliver(p, info, payloads, ptsMs)
	}
}

// ForgetStream drops the encoder state of a finished stream.
func (h *Hub) ForgetStream(id string) {
	h.encMu.Lock()
	defer h.encMu.Unlock()
	if enc, ok := h.encoders[id]; ok {
		enc.Close()
		delete(h.encoders, id)
	}
}

func (h *Hub) encode(p stream.Packet) ([][]byte, CapsPayload, error) {
	info := CapsPayload{ID: p.ID, Index: p.Index, Caps: p.Caps, Transport: h.opts.Version}
	info.Caps.Samples = 0
	if !h.opts.Opus {
		info.Encoding = EncodingPCM
		info.Rate = p.Caps.Rate
		if len(p.Buffer) == 0 {
			return nil, info, nil
		}
		return [][]byte{p.Buffer}, info, nil
	}

	h.encMu.Lock()
	defer h.encMu.Unlock()
	enc, ok := h.encoders[p.ID]
	if !ok {
		enc = monitor.NewEncoder(h.opts.Bitrate)
		h.encoders[p.ID] = enc
	}
	frames, err := enc.Encode(p)
	info.Encoding = EncodingOpus
	info.Rate = enc.Rate()
	info.FrameMs = monitor.FrameDurationMs
	return frames, info, err
}

func (h *Hub) subscribers(index int) []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*session
	for _, sess := range h.sessions {
		if sess.wants(index) {
			out = append(out, sess)
		}
	}
	return out
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (s *session) wants(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all {
		return true
	}
	_, ok := s.indexes[index]
	return ok
}

func (s *session) deliver(p stream.Packet, info CapsPayload, payloads [][]byte, ptsMs int64) {
	s.mu.Lock()
	capsChanged := s.lastCaps[p.ID] != info.Caps
	s.lastCaps[p.ID] = info.Caps
	levels := s.levels
	s.mu.Unlock()

	version := s.hub.opts.Version
	if capsChanged && version != codec.Version1 {
		raw, err := json.Marshal(info)
		if err == nil {
			s.sendFrame(codec.Frame{Kind: codec.PayloadKindCaps, Index: p.Index, PTSMillis: ptsMs, Payload: raw})
		}
	}
	if levels {
		s.sendLevel(Message{Type: "level", Payload: LevelPayload{
			ID:      p.ID,
			Index:   p.Index,
			PTSMs:   ptsMs,
			Samples: p.Caps.Samples,
			Level:   packetLevel(p),
		}})
	}
	for _, payload := range payloads {
		s.sendFrame(codec.Frame{Kind: codec.PayloadKindAudio, Index: p.Index, PTSMillis: ptsMs, Payload: payload})
	}
}

// sendFrame queues a binary frame. Frames are dropped while the queue is
// full so a slow client never stalls the publishing stream.
func (s *session) sendFrame(f codec.Frame) {
	data, err := codec.Pack(s.hub.opts.Version, f)
	if err != nil {
		s.logger.Debug("ws pack failed", zap.String("session_id", s.id), zap.Error(err))
		return
	}
	s.offer(outgoing{data: data})
}

// sendLevel queues a level report with the same drop policy as audio.
func (s *session) sendLevel(payload any) {
	s.offer(outgoing{json: payload})
}

func (s *session) offer(msg outgoing) {
	select {
	case s.send <- msg:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Debug("ws send queue full, dropping", zap.String("session_id", s.id), zap.Uint64("dropped", n))
		}
	}
}

// sendJSON queues a control reply, waiting for room until the session ends.
func (s *session) sendJSON(payload any) {
	select {
	case s.send <- outgoing{json: payload}:
	case <-s.done:
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			var err error
			if msg.data != nil {
				err = s.conn.WriteMessage(websocket.BinaryMessage, msg.data)
			} else {
				err = s.conn.WriteJSON(msg.json)
			}
			if err != nil {
				s.logger.Debug("ws send failed", zap.String("session_id", s.id), zap.Error(err))
			}
		}
	}
}

// packetLevel returns the RMS of all channels of p, in [0, 1].
func packetLevel(p stream.Packet) float64 {
	if p.Caps.Samples == 0 {
		return 0
	}
	f := &audio.Frame{
		Format:  p.Caps.Format,
		Layout:  p.Caps.Layout,
		Rate:    p.Caps.Rate,
		Samples: p.Caps.Samples,
		Data:    [][]byte{p.Buffer},
	}
	planes, err := audio.FrameToPlanes(f, f.Samples)
	if err != nil {
		return 0
	}
	defer audio.ReleasePlanes(planes)

	sum := 0.0
	count := 0
	for _, plane := range planes {
		for _, v := range plane {
			sum += float64(v) * float64(v)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
