package erpsync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"listingflow/internal/db"
)

// Leaser serializes work on one business key (an order reference). ok is
// false when somebody else currently holds the key.
type Leaser interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// LocalLeaser is a try-lock per key inside this process.
type LocalLeaser struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{held: map[string]struct{}{}}
}

func (l *LocalLeaser) Acquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

// TableLeaser shares leases across Lambda instances through DynamoDB.
type TableLeaser struct {
	leases *db.Leases
	log    *zap.Logger
}

func NewTableLeaser(leases *db.Leases, log *zap.Logger) *TableLeaser {
	return &TableLeaser{leases: leases, log: log}
}

func (t *TableLeaser) Acquire(ctx context.Context, key string) (func(), bool, error) {
	owner, err := t.leases.Acquire(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if owner == "" {
		return nil, false, nil
	}
	return func() {
		if err := t.leases.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			t.log.Warn("lease release failed", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}

type chain []Leaser

// Chain acquires every leaser in order and releases in reverse.
func Chain(ls ...Leaser) Leaser {
	return chain(ls)
}

func (c chain) Acquire(ctx context.Context, key string) (func(), bool, error) {
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		release, ok, err := l.Acquire(ctx, key)
		if err != nil || !ok {
			releaseAll()
			return nil, ok, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
