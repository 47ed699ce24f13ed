package signaling

import (
	"log/slog"
	"sync"
)

// Router routes inbound messages to per-type handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]func(*Message)
	log      *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]func(*Message)),
		log:      logger,
	}
}

// Handle registers h for messages of type t, replacing any earlier handler.
func (r *Router) Handle(t string, h func(*Message)) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Dispatch is suitable as a Channel message handler. Messages without a
// registered handler are dropped.
func (r *Router) Dispatch(msg *Message) {
	if msg == nil {
		return
	}
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("no handler for message", "type", msg.Type)
		return
	}
	h(msg)
}
