package tshark

import (
	"context"
	"slices"
	"sync"
	"time"
)

type ctxKey struct{}

// WithRequestID tags ctx so that processes started under it are attributed
// to the request in the registry.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Registry tracks running tshark processes
type Registry struct {
	procs map[uint64]*Process
	seq   uint64
	mu    sync.RWMutex
}

// Process is a running tshark process.
type Process struct {
	ID        uint64    `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	PID       int       `json:"pid"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		procs: make(map[uint64]*Process),
	}
}

// Register records a started process. cancel must stop it.
func (r *Registry) Register(ctx context.Context, pid int, args []string, cancel context.CancelFunc) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	p := &Process{
		ID:        r.seq,
		RequestID: RequestID(ctx),
		PID:       pid,
		Args:      slices.Clone(args),
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	r.procs[p.ID] = p
	return p
}

// Unregister forgets a process once it has been reaped.
func (r *Registry) Unregister(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, p.ID)
}

// Len returns the number of running processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}

// Snapshot returns copies of the running processes, oldest first.
func (r *Registry) Snapshot() []Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Process, 0, len(r.procs))
	for _, p := range r.procs {
		cp := *p
		cp.Args = slices.Clone(p.Args)
		cp.cancel = nil
		result = append(result, cp)
	}
	slices.SortFunc(result, func(a, b Process) int {
		return int(a.ID) - int(b.ID)
	})
	return result
}

// StopAll cancels every running process and returns how many were
// signalled. The processes unregister themselves once reaped.
func (r *Registry) StopAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.procs {
		p.cancel()
	}
	return len(r.procs)
}
