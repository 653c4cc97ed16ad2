// ABOUTME: Turns event bus polling into a push-style live stream per subscriber
// ABOUTME: Cancellable poll loop with interleaved heartbeats, one cursor per subscription

package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chatseam/chatseam/internal/bus"
	"github.com/google/uuid"
)

// FrameKind tags the frames a subscriber can receive.
type FrameKind string

const (
	FrameConnected  FrameKind = "connected"
	FrameNewMessage FrameKind = "new_message"
	FrameHeartbeat  FrameKind = "heartbeat"
)

// Frame is one unit sent to a subscriber. Data is nil for heartbeats.
type Frame struct {
	Kind FrameKind
	Data json.RawMessage
}

// Sink receives frames for one subscriber. A Send error means the transport
// is gone and the subscription must stop.
type Sink interface {
	Send(frame Frame) error
}

// Streamer runs one poll/forward loop per subscriber. Subscribers share no
// state with each other; each tracks its own resume cursor starting from its
// connection time.
type Streamer struct {
	bus               bus.Bus
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// NewStreamer creates a Streamer polling the bus at pollInterval and emitting
// heartbeats at heartbeatInterval.
func NewStreamer(b bus.Bus, pollInterval, heartbeatInterval time.Duration, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		bus:               b,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With("component", "stream"),
	}
}

type connectedPayload struct {
	ConversationID string `json:"conversation_id"`
	SubscriptionID string `json:"subscription_id"`
}

// Run streams a conversation's events to sink until ctx is cancelled or sink
// reports the transport closed. Events are forwarded in bus order; poll
// failures are logged and retried on the next tick — the subscriber can always
// recover state from the durable store.
func (s *Streamer) Run(ctx context.Context, conversationID string, sink Sink) error {
	subID := uuid.New().String()
	logger := s.logger.With("conversation_id", conversationID, "sub_id", subID)

	// The cursor starts at connection time: a reconnecting client re-fetches
	// durable messages to cover the gap, it does not replay the bus.
	cursor := time.Now().UnixMicro()

	connected, err := json.Marshal(connectedPayload{
		ConversationID: conversationID,
		SubscriptionID: subID,
	})
	if err != nil {
		return err
	}
	if err := sink.Send(Frame{Kind: FrameConnected, Data: connected}); err != nil {
		return err
	}

	logger.Debug("subscriber connected")

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("subscriber disconnected")
			return nil

		case <-heartbeat.C:
			if err := sink.Send(Frame{Kind: FrameHeartbeat}); err != nil {
				logger.Debug("subscriber transport closed", "error", err)
				return nil
			}

		case <-poll.C:
			events, next, err := s.bus.Poll(ctx, conversationID, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("event poll failed, retrying next tick", "error", err)
				continue
			}

			for _, event := range events {
				if err := sink.Send(Frame{Kind: FrameNewMessage, Data: event.Payload}); err != nil {
					logger.Debug("subscriber transport closed", "error", err)
					return nil
				}
			}
			cursor = next
		}
	}
}
