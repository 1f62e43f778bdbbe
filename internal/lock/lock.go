// Package lock guards against overlapping sync runs for the same source.
package lock

import (
	"context"
	"errors"
	"sync"

	"ledgerSync/internal/model"
)

// ErrBusy reports that another run holds the lock.
var ErrBusy = errors.New("a sync run for this source is already active")

// Locker acquires a named lock without blocking.
// When ok is true the caller must call unlock exactly once.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// SyncKey is the lock name guarding sync runs of a source.
func SyncKey(source model.SourceKey) string {
	return "sync:" + source.String()
}

// Do runs fn while holding key. It returns ErrBusy without calling fn when the lock is taken.
func Do(ctx context.Context, locker Locker, key string, fn func(context.Context) error) error {
	unlock, ok, err := locker.TryLock(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	defer unlock()
	return fn(ctx)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
