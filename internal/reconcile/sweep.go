// ABOUTME: Background sweep that reconciles every open conversation on an interval
// ABOUTME: Catches operator replies while no dashboard or widget is connected

package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatseam/chatseam/internal/store"
)

// sweepConversationLimit bounds how many conversations a single sweep pass
// visits per project.
const sweepConversationLimit = 200

// Sweeper periodically runs a reconcile pass across all open conversations.
type Sweeper struct {
	store      store.Store
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(st store.Store, rec *Reconciler, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      st,
		reconciler: rec,
		interval:   interval,
		logger:     logger.With("component", "sweep"),
	}
}

// Run blocks until the context is canceled, reconciling open conversations
// on each tick. A failing conversation never stops the pass.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		s.logger.Warn("sweep skipped, cannot list projects", "error", err)
		return
	}

	for _, p := range projects {
		convs, err := s.store.ListConversations(ctx, p.ID, sweepConversationLimit)
		if err != nil {
			s.logger.Warn("sweep skipped project", "project_id", p.ID, "error", err)
			continue
		}

		for _, conv := range convs {
			if conv.Status != store.StatusOpen || conv.ThreadID == "" {
				continue
			}
			if _, err := s.reconciler.Sync(ctx, conv.ID); err != nil {
				s.logger.Warn("sweep reconcile failed",
					"conversation_id", conv.ID,
					"error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
