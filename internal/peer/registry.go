package peer

import (
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/BioHazard786/meshcall/internal/errs"
)

// ErrReplaced is returned by Replace when the connection it was asked to
// replace is no longer registered.
var ErrReplaced = errors.New("connection already replaced")

// Registry holds at most one Connection per remote participant.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	hooks  []func(*Connection)
	closed bool

	// create is held shared while a connection is built and inserted, and
	// exclusively while ForEach takes its snapshot, so a snapshot never
	// misses a connection whose hooks already ran.
	create sync.RWMutex
	group  singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// OnCreate registers fn to run on every new connection before it becomes
// visible to Get or ForEach. Hooks run in registration order.
func (r *Registry) OnCreate(fn func(*Connection)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// GetOrCreate returns the connection for peerID, building it with factory
// when none exists. Concurrent calls for one id share a single creation.
// created is true only for the caller whose factory ran.
func (r *Registry) GetOrCreate(peerID string, factory Factory) (c *Connection, created bool, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, errs.NewPeerError("create connection", peerID, errs.ErrSessionClosed)
	}
	if existing, ok := r.conns[peerID]; ok {
		r.mu.Unlock()
		return existing, false, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(peerID, func() (any, error) {
		r.mu.Lock()
		if existing, ok := r.conns[peerID]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.mu.Unlock()

		conn, err := r.build(peerID, factory, nil)
		if err != nil {
			return nil, err
		}
		created = true
		return conn, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Connection), created, nil
}

// Replace swaps old for a freshly built connection to the same peer and
// closes old. Hooks run on the replacement as they do on any new
// connection. It fails if old is no longer the registered connection.
func (r *Registry) Replace(peerID string, old *Connection, factory Factory) (*Connection, error) {
	conn, err := r.build(peerID, factory, old)
	if err != nil {
		return nil, err
	}
	old.Close()
	return conn, nil
}

// build creates a connection, runs the hooks on it and registers it in
// place of old. A nil old means peerID must not be registered yet.
func (r *Registry) build(peerID string, factory Factory, old *Connection) (*Connection, error) {
	r.mu.Lock()
	if old != nil && r.conns[peerID] != old {
		r.mu.Unlock()
		return nil, errs.NewPeerError("replace connection", peerID, ErrReplaced)
	}
	hooks := append([]func(*Connection){}, r.hooks...)
	r.mu.Unlock()

	r.create.RLock()
	defer r.create.RUnlock()

	pc, err := factory()
	if err != nil {
		return nil, errs.NewPeerError("create connection", peerID, err)
	}

	conn := newConnection(peerID, pc)
	for _, hook := range hooks {
		hook(conn)
	}

	r.mu.Lock()
	if r.closed || (old != nil && r.conns[peerID] != old) {
		closed := r.closed
		r.mu.Unlock()
		conn.Close()
		if closed {
			return nil, errs.NewPeerError("create connection", peerID, errs.ErrSessionClosed)
		}
		return nil, errs.NewPeerError("replace connection", peerID, ErrReplaced)
	}
	r.conns[peerID] = conn
	r.mu.Unlock()
	return conn, nil
}

func (r *Registry) Get(peerID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[peerID]
}

// CloseAndRemove closes and forgets the connection for peerID, if any.
func (r *Registry) CloseAndRemove(peerID string) bool {
	r.mu.Lock()
	c, ok := r.conns[peerID]
	delete(r.conns, peerID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.Close()
	return true
}

// ForEach calls fn for every connection present when it was called.
func (r *Registry) ForEach(fn func(*Connection)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

// IDs returns the peer ids present, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every connection and refuses new ones afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) snapshot() []*Connection {
	r.create.Lock()
	defer r.create.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.conns[id])
	}
	return out
}
