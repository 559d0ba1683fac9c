package application

import (
	"context"
	"sync"
)

// ExecutionGuard serializes scans that share a key. Acquire returns
// ErrScanInProgress when the key is already held; the returned release
// function must be called exactly once.
type ExecutionGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalGuard is an in-process ExecutionGuard keyed by string.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard constructs an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

// Acquire takes the key without waiting.
func (g *LocalGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = make(map[string]struct{})
	}
	if _, busy := g.held[key]; busy {
		return nil, ErrScanInProgress
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// ScanGuardKey is the guard key used for a user's scans.
func ScanGuardKey(user string) string {
	return "scan:" + normalizeEmail(user)
}
