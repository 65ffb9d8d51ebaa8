package pxlsbot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// messageQueue serializes starboard work per source message. All tasks
// sharing a key run strictly in submission order, back to back, while
// tasks for different keys run independently. Two concurrent
// reconciliations for the same message could otherwise race to create
// two mirrors, or apply a stale reaction count over a newer one.
//
// A key's chain entry is dropped as soon as its last task finishes, so a
// message with no in-flight work occupies no memory.
type messageQueue struct {
	mu     sync.Mutex
	chains map[string]*messageChain
	logger *slog.Logger

	// taskTimeout bounds a single task, so a hung API call can't stall
	// its key's chain forever. 0 disables the deadline.
	taskTimeout time.Duration
}

// messageChain tracks the pending work for one key. tail is closed when
// the most recently submitted task finishes.
type messageChain struct {
	tail    chan struct{}
	pending int
}

func newMessageQueue(logger *slog.Logger, taskTimeout time.Duration) *messageQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &messageQueue{
		chains:      map[string]*messageChain{},
		logger:      logger.With(loggerNameKey, "message_queue"),
		taskTimeout: taskTimeout,
	}
}

// reserve appends a slot to the key's chain and returns the predecessor's
// completion channel (nil if the slot is first in line), this slot's
// completion channel, and a release func that closes the slot and drops
// the chain entry once empty.
//
// reserve is cheap and non-blocking; callers that need delivery order
// preserved must call it synchronously, in delivery order.
func (q *messageQueue) reserve(key string) (
	prev <-chan struct{},
	release func(),
) {
	q.mu.Lock()
	defer q.mu.Unlock()

	chain := q.chains[key]
	if chain == nil {
		chain = &messageChain{}
		q.chains[key] = chain
	}
	prev = chain.tail
	done := make(chan struct{})
	chain.tail = done
	chain.pending++

	release = func() {
		close(done)
		q.mu.Lock()
		defer q.mu.Unlock()
		chain.pending--
		if chain.pending == 0 {
			delete(q.chains, key)
		}
	}
	return prev, release
}

// Enqueue appends task to the key's chain and returns after it ran (or
// failed). Tasks for the same key run strictly in Enqueue order; tasks
// for distinct keys never block each other. A task error is logged and
// swallowed, and the chain proceeds as though the task had succeeded.
func (q *messageQueue) Enqueue(
	ctx context.Context,
	key string,
	task func(context.Context) error,
) {
	prev, release := q.reserve(key)
	q.run(ctx, key, prev, release, task)
}

// Submit is the asynchronous variant of Enqueue: the chain slot is
// claimed synchronously (preserving submission order), but the task runs
// in its own goroutine. Gateway handlers use this so a slow
// reconciliation doesn't block event dispatch.
func (q *messageQueue) Submit(
	ctx context.Context,
	key string,
	task func(context.Context) error,
) {
	prev, release := q.reserve(key)
	go q.run(ctx, key, prev, release, task)
}

func (q *messageQueue) run(
	ctx context.Context,
	key string,
	prev <-chan struct{},
	release func(),
	task func(context.Context) error,
) {
	defer release()
	if prev != nil {
		<-prev
	}

	taskCtx := ctx
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}

	if err := task(taskCtx); err != nil {
		q.logger.ErrorContext(
			ctx,
			"queued task failed",
			"message_id", key,
			tint.Err(err),
		)
	}
}

// Len returns the number of keys with pending or in-flight tasks.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chains)
}
