package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/saker-ai/audiosync/internal/group"
)

type incomingHandler func(context.Context, incomingMessage)

func (s *session) dispatchIncoming(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"subscribe":     s.onSubscribe,
		"subscribe-all": s.onSubscribeAll,
		"unsubscribe":   s.onUnsubscribe,
		"set-levels":    s.onSetLevels,
		"fetch-streams": s.onFetchStreams,
		"set-drop":      s.onSetDrop,
		"heartbeat":     s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.id),
		zap.String("type", msg.Type),
	)
	s.sendJSON(Message{Type: "error", Payload: "unknown message type: " + msg.Type})
}

func (s *session) onSubscribe(_ context.Context, msg incomingMessage) {
	if msg.Index == nil {
		s.sendJSON(Message{Type: "error", Payload: "subscribe needs an index"})
		return
	}
	s.mu.Lock()
	if s.all {
		s.all = false
		s.indexes = make(map[int]struct{})
	}
	s.indexes[*msg.Index] = struct{}{}
	s.mu.Unlock()
	s.sendJSON(Message{Type: "subscribed", Payload: *msg.Index})
}

func (s *session) onSubscribeAll(_ context.Context, _ incomingMessage) {
	s.mu.Lock()
	s.all = true
	s.mu.Unlock()
	s.sendJSON(Message{Type: "subscribed", Payload: "all"})
}

func (s *session) onUnsubscribe(_ context.Context, msg incomingMessage) {
	s.mu.Lock()
	if msg.Index == nil {
		s.all = false
		s.indexes = make(map[int]struct{})
	} else {
		delete(s.indexes, *msg.Index)
	}
	s.mu.Unlock()
	s.sendJSON(Message{Type: "unsubscribed"})
}

func (s *session) onSetLevels(_ context.Context, msg incomingMessage) {
	s.mu.Lock()
	s.levels = msg.Enabled
	s.mu.Unlock()
}

func (s *session) onFetchStreams(_ context.Context, _ incomingMessage) {
	payload := StreamsPayload{Groups: []group.Snapshot{}}
	if s.hub.groups != nil {
		payload.Groups = s.hub.groups.Snapshot()
	}
	s.sendJSON(Message{Type: "streams", Payload: payload})
}

func (s *session) onSetDrop(_ context.Context, msg incomingMessage) {
	if s.hub.groups == nil {
		s.sendJSON(Message{Type: "error", Payload: "no stream groups"})
		return
	}
	if err := s.hub.groups.SetDrop(msg.Group, msg.Drop); err != nil {
		s.sendJSON(Message{Type: "error", Payload: err.Error()})
		return
	}
	s.logger.Info("stream group drop flag changed",
		zap.String("session_id", s.id),
		zap.String("group", msg.Group),
		zap.Bool("drop", msg.Drop),
	)
	s.sendJSON(Message{Type: "drop-updated", Payload: map[string]any{"group": msg.Group, "drop": msg.Drop}})
}

func (s *session) onNoop(_ context.Context, _ incomingMessage) {}
