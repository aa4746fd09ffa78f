// Package hub decouples receive loops from fanout. Submit persists
// synchronously, so the sender sees persistence failures and per-
// session ordering follows receipt order. The message then goes to a
// single dispatcher goroutine that spawns one short-lived fanout task
// per message. Fanout across sessions carries no ordering guarantee.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"schoolchat/pkg/types"
)

// Publisher is the routing backend: durable append plus fanout.
type Publisher interface {
	Publish(ctx context.Context, m *types.Message) error
	Fanout(m *types.Message)
}

// Hub queues persisted messages for fanout dispatch.
type Hub struct {
	queue    chan *types.Message
	shutdown chan struct{}
	router   Publisher

	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub with a bounded fanout queue.
func NewHub(router Publisher, queueSize int) *Hub {
	return &Hub{
		queue:    make(chan *types.Message, queueSize),
		shutdown: make(chan struct{}),
		router:   router,
	}
}

// Start begins dispatch processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	go h.run(ctx)
	return nil
}

// Stop halts dispatch. Messages already persisted but still queued are
// dropped; clients recover them from the store on reconnect.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Submit persists one inbound message and queues its fanout. The
// persistence error, if any, is the caller's; a full fanout queue only
// costs the live deliveries, never the durable record.
func (h *Hub) Submit(ctx context.Context, m *types.Message) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	if err := h.router.Publish(ctx, m); err != nil {
		return err
	}

	select {
	case h.queue <- m:
	default:
		log.Warn().Int("session_id", m.SessionID).
			Msg("fanout queue full, dropping live delivery")
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer log.Info().Msg("hub dispatch stopped")

	for {
		select {
		case m := <-h.queue:
			go h.router.Fanout(m)
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}
