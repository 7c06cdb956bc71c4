// Package dispatch delivers rendered messages through a pool of bots,
// highest-value first.
//
// Messages enter a bounded priority queue ordered by profit (ties broken
// by arrival order). When the queue is full a new message is admitted only
// by evicting a strictly less valuable one — under burst pressure the
// cheap picks are the ones that die. One consumer goroutine runs per bot,
// each throttled to the per-bot message rate, so a rate-limited bot stalls
// only itself while the others keep draining the queue.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"retador/internal/telegram"
)

const (
	// maxAttempts counts delivery tries per message. Rate-limit waits do
	// not consume an attempt; only real failures do.
	maxAttempts = 3

	perBotRate  = 30 // messages per second per bot
	perBotBurst = 30

	defaultGrace = 5 * time.Second
)

// transientBackoff is the delay before re-enqueueing after the n-th
// failed attempt.
var transientBackoff = [...]time.Duration{
	100 * time.Millisecond,
	400 * time.Millisecond,
	1600 * time.Millisecond,
}

// Message is one rendered pick ready for delivery.
type Message struct {
	ChatID     int64
	Text       string
	Profit     float64 // queue priority
	EnqueuedAt time.Time

	attempts int
}

// Sender is the delivery surface of one bot.
type Sender interface {
	Name() string
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Stats are the dispatcher's running counters.
type Stats struct {
	Sent          int64
	RejectedFull  int64 // refused at admission, queue full of better picks
	DroppedRetry  int64 // gave up after maxAttempts
	DroppedReject int64 // permanent API rejection
}

// Dispatcher owns the priority queue and the per-bot consumers.
type Dispatcher struct {
	mu     sync.Mutex
	queue  msgHeap
	cap    int
	notify chan struct{}

	bots     []Sender
	limiters []*rate.Limiter
	grace    time.Duration
	logger   *slog.Logger

	sent          atomic.Int64
	rejectedFull  atomic.Int64
	droppedRetry  atomic.Int64
	droppedReject atomic.Int64
}

// New creates a dispatcher over the given bots with the given queue
// capacity.
func New(bots []Sender, capacity int, logger *slog.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = 1
	}
	limiters := make([]*rate.Limiter, len(bots))
	for i := range bots {
		limiters[i] = rate.NewLimiter(rate.Limit(perBotRate), perBotBurst)
	}
	return &Dispatcher{
		cap:      capacity,
		notify:   make(chan struct{}, 1),
		bots:     bots,
		limiters: limiters,
		grace:    defaultGrace,
		logger:   logger.With("component", "dispatch"),
	}
}

// Enqueue admits a message to the queue. When the queue is full the
// message must be strictly more profitable than the current worst entry
// to get in; otherwise Enqueue reports false and the message is lost.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	d.mu.Lock()
	if len(d.queue) >= d.cap {
		worst := d.worstIndex()
		if msg.Profit <= d.queue[worst].Profit {
			d.mu.Unlock()
			d.rejectedFull.Add(1)
			return false
		}
		evicted := heap.Remove(&d.queue, worst).(Message)
		d.logger.Debug("evicted for better pick",
			"evicted_profit", evicted.Profit, "new_profit", msg.Profit)
	}
	heap.Push(&d.queue, msg)
	d.mu.Unlock()

	d.signal()
	return true
}

// Len reports the number of queued messages.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Snapshot returns the current counters.
func (d *Dispatcher) Snapshot() Stats {
	return Stats{
		Sent:          d.sent.Load(),
		RejectedFull:  d.rejectedFull.Load(),
		DroppedRetry:  d.droppedRetry.Load(),
		DroppedReject: d.droppedReject.Load(),
	}
}

// Run starts one consumer per bot and blocks until ctx is cancelled and
// the drain grace has passed. Messages still queued after the grace are
// abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	sendCtx, cancel := context.WithCancel(context.Background())

	go func() {
		<-ctx.Done()
		deadline := time.NewTimer(d.grace)
		defer deadline.Stop()
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-deadline.C:
				cancel()
				return
			case <-tick.C:
				if d.Len() == 0 {
					cancel()
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := range d.bots {
		wg.Add(1)
		go func(bot Sender, lim *rate.Limiter) {
			defer wg.Done()
			d.consume(sendCtx, bot, lim)
		}(d.bots[i], d.limiters[i])
	}
	wg.Wait()

	if n := d.Len(); n > 0 {
		d.logger.Warn("shutdown abandoned queued messages", "count", n)
	}
}

func (d *Dispatcher) consume(ctx context.Context, bot Sender, lim *rate.Limiter) {
	for {
		msg, ok := d.pop(ctx)
		if !ok {
			return
		}
		if err := lim.Wait(ctx); err != nil {
			d.requeue(msg)
			return
		}

		err := bot.SendMessage(ctx, msg.ChatID, msg.Text)
		if err == nil {
			d.sent.Add(1)
			continue
		}

		var se *telegram.SendError
		if !errors.As(err, &se) {
			se = &telegram.SendError{Kind: telegram.Transient, Description: err.Error()}
		}

		switch se.Kind {
		case telegram.RateLimited:
			// Pause this bot only; the message goes back for any bot
			// to pick up, attempt untouched.
			d.logger.Warn("bot rate limited",
				"bot", bot.Name(), "retry_after", se.RetryAfter)
			d.requeue(msg)
			if !sleepCtx(ctx, se.RetryAfter) {
				return
			}

		case telegram.Transient:
			msg.attempts++
			if msg.attempts >= maxAttempts {
				d.droppedRetry.Add(1)
				d.logger.Error("message dropped after retries",
					"bot", bot.Name(), "chat", msg.ChatID, "error", se)
				continue
			}
			d.logger.Warn("transient send failure",
				"bot", bot.Name(), "attempt", msg.attempts, "error", se)
			if !sleepCtx(ctx, transientBackoff[msg.attempts-1]) {
				d.requeue(msg)
				return
			}
			d.requeue(msg)

		default: // Permanent
			d.droppedReject.Add(1)
			d.logger.Error("message rejected",
				"bot", bot.Name(), "chat", msg.ChatID, "error", se)
		}
	}
}

// pop blocks until a message is available or ctx is cancelled.
func (d *Dispatcher) pop(ctx context.Context) (Message, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			msg := heap.Pop(&d.queue).(Message)
			remaining := len(d.queue)
			d.mu.Unlock()
			if remaining > 0 {
				d.signal() // wake another consumer for the rest
			}
			return msg, true
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-d.notify:
		}
	}
}

// requeue puts a message back without the admission check losing it
// silently: if the queue refuses it (full of strictly better picks) the
// rejection counter already records the loss.
func (d *Dispatcher) requeue(msg Message) {
	if !d.Enqueue(msg) {
		d.logger.Warn("retry crowded out", "chat", msg.ChatID, "profit", msg.Profit)
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// worstIndex returns the index of the lowest-priority entry. Linear scan;
// the queue is small and eviction only happens when it is full.
func (d *Dispatcher) worstIndex() int {
	worst := 0
	for i := 1; i < len(d.queue); i++ {
		if d.queue.Less(worst, i) {
			worst = i
		}
	}
	return worst
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(dur):
		return true
	}
}

// msgHeap is a max-heap: highest profit first, earlier arrival wins ties.
type msgHeap []Message

func (h msgHeap) Len() int { return len(h) }

func (h msgHeap) Less(i, j int) bool {
	if h[i].Profit != h[j].Profit {
		return h[i].Profit > h[j].Profit
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x any) { *h = append(*h, x.(Message)) }

func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	msg := old[n-1]
	*h = old[:n-1]
	return msg
}
