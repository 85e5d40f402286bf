package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var ErrDraining = errors.New("session registry draining")

type SessionFactory func(ctx context.Context, info SessionInfo) (*Session, error)

// SessionRegistry tracks live sessions by id.
type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory}
}

// GetOrCreate returns the session for info.ID, creating it through the
// factory when absent. created reports whether this call built it.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, info SessionInfo) (sess *Session, created bool, err error) {
	if info.ID == "" {
		return nil, false, errors.New("session id required")
	}
	if v, ok := r.sessions.Load(info.ID); ok {
		return v.(*Session), false, nil
	}
	if r.draining.Load() {
		return nil, false, ErrDraining
	}
	sess, err = r.factory(ctx, info)
	if err != nil {
		return nil, false, err
	}
	actual, loaded := r.sessions.LoadOrStore(info.ID, sess)
	if loaded {
		_ = sess.Close(ctx)
		return actual.(*Session), false, nil
	}
	r.count.Add(1)
	return sess, true, nil
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove unregisters and closes the session. Removing an unknown id is a no-op.
func (r *SessionRegistry) Remove(ctx context.Context, id string) error {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil
	}
	defer r.count.Add(-1)
	return v.(*Session).Close(ctx)
}

// CloseAll closes every session concurrently and joins their errors.
func (r *SessionRegistry) CloseAll(ctx context.Context) error {
	var ids []string
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			ids = append(ids, id)
		}
		return true
	})
	var (
		mu   sync.Mutex
		errs error
	)
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.Remove(ctx, id); err != nil {
				mu.Lock()
				errs = errors.Join(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) Draining() bool {
	return r.draining.Load()
}

func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
