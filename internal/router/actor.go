package router

import (
	"context"
	"sync"
)

// actor serializes all work for one session. Jobs run one at a time in
// mailbox order on the actor goroutine.
type actor struct {
	sessionID string
	mailbox   chan func()
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newActor(sessionID string, mailboxSize int) *actor {
	if mailboxSize <= 0 {
		mailboxSize = 1
	}
	return &actor{
		sessionID: sessionID,
		mailbox:   make(chan func(), mailboxSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case job := <-a.mailbox:
			select {
			case <-a.stop:
				return
			default:
			}
			job()
		}
	}
}

// quit stops the actor after the current job. Queued jobs are abandoned and
// their callers get ErrSessionNotFound.
func (a *actor) quit() {
	a.stopOnce.Do(func() { close(a.stop) })
}

type result[T any] struct {
	val T
	err error
}

// call runs fn on a and waits for its result. If ctx ends first the job still
// runs later, but its result is discarded.
func call[T any](ctx context.Context, a *actor, fn func() (T, error)) (T, error) {
	resCh := make(chan result[T], 1)
	job := func() {
		v, err := fn()
		resCh <- result[T]{val: v, err: err}
	}
	var zero T
	select {
	case a.mailbox <- job:
	case <-a.done:
		return zero, ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	return await(ctx, a, resCh)
}

func await[T any](ctx context.Context, a *actor, resCh chan result[T]) (T, error) {
	var zero T
	select {
	case res := <-resCh:
		return res.val, res.err
	case <-a.done:
		select {
		case res := <-resCh:
			return res.val, res.err
		default:
			return zero, ErrSessionNotFound
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// do is call for jobs without a result value.
func (a *actor) do(ctx context.Context, fn func() error) error {
	_, err := call(ctx, a, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
