// ABOUTME: Server-Sent Events endpoint bridging the streamer onto HTTP responses
// ABOUTME: Frames become event/data blocks; heartbeats become SSE comments

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chatseam/chatseam/internal/store"
	"github.com/chatseam/chatseam/internal/stream"
)

// handleStream handles GET /api/conversations/{id}/stream.
// Holds the connection open and forwards live frames until the client
// disconnects or the server shuts down.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to get conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream stops on client disconnect or on gateway shutdown,
	// whichever comes first.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(g.streamCtx, cancel)
	defer stop()

	sink := &sseSink{w: w, flusher: flusher}
	if err := g.streamer.Run(ctx, id, sink); err != nil {
		g.logger.Warn("stream ended with error", "conversation_id", id, "error", err)
	}
}

// sseSink adapts an HTTP response into a stream.Sink. Run calls Send from a
// single goroutine, so no locking is needed.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Send writes one frame in SSE wire format. Heartbeats go out as comment
// lines so they keep intermediaries from idling out the connection without
// surfacing as events client-side.
func (s *sseSink) Send(frame stream.Frame) error {
	var err error
	if frame.Kind == stream.FrameHeartbeat {
		_, err = fmt.Fprint(s.w, ": heartbeat\n\n")
	} else {
		_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Kind, frame.Data)
	}
	if err != nil {
		return fmt.Errorf("writing SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
