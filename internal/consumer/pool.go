package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/metrics"
	store "github.com/PManghan91/boardroom/internal/repository"
)

// Store is the cursor and log storage the pool needs.
type Store interface {
	ListPendingRooms(ctx context.Context, now time.Time, limit int) ([]store.PendingRoom, error)
	GetConsumerOffset(ctx context.Context, roomID string) (*domain.ConsumerOffset, error)
	ReadEvents(ctx context.Context, roomID string, afterOffset int64, limit int) ([]domain.Event, error)
	MarkClaimed(ctx context.Context, roomID string, upTo int64) error
	AdvanceAck(ctx context.Context, roomID string, upTo int64, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, roomID string, nextAttemptAt, now time.Time) (*domain.ConsumerOffset, error)
	DeadLetterEvent(ctx context.Context, dl *domain.DeadLetter) error
	DeadLetterBatch(ctx context.Context, roomID string, letters []domain.DeadLetter, upTo int64, now time.Time) error
}

// Config tunes the pool.
type Config struct {
	WorkerCount  int
	BatchSize    int
	Lease        time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// MaxInFlight bounds concurrently claimed rooms. Zero is unbounded.
	MaxInFlight int
}

// Batch is a claimed run of a room's unacknowledged events.
type Batch struct {
	Claim  Claim
	Events []domain.Event
	// Acked is the room's acknowledged offset when the batch was claimed.
	Acked int64
	// Attempts counts earlier failed deliveries of this range.
	Attempts      int
	FirstFailedAt *time.Time
}

// RoomID returns the claimed room.
func (b *Batch) RoomID() string { return b.Claim.RoomID }

// Last returns the highest offset in the batch.
func (b *Batch) Last() int64 {
	if len(b.Events) == 0 {
		return b.Acked
	}
	return b.Events[len(b.Events)-1].Offset
}

// Handler processes a batch. It returns the highest offset whose effect is
// durably committed, which may be below the batch end when err is set.
type Handler interface {
	Process(ctx context.Context, b *Batch) (committed int64, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, b *Batch) (int64, error)

// Process calls f.
func (f HandlerFunc) Process(ctx context.Context, b *Batch) (int64, error) { return f(ctx, b) }

// FailOutcome reports what Fail did with a batch.
type FailOutcome struct {
	Attempts     int
	NextAttempt  time.Time
	DeadLettered bool
}

// Pool is the consumer group. Workers claim rooms, process their batches and
// acknowledge, retry or dead-letter them.
type Pool struct {
	store   Store
	cfg     Config
	claims  *ClaimTable
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPool creates a worker pool.
func NewPool(s Store, cfg Config, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Pool {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Pool{
		store:   s,
		cfg:     cfg,
		claims:  NewClaimTable(clk, cfg.MaxInFlight),
		clock:   clk,
		logger:  logger,
		metrics: m,
	}
}

// InFlight returns the number of rooms currently claimed.
func (p *Pool) InFlight() int {
	return p.claims.Len()
}

// Claim hands workerID the next room with due, unclaimed events. It returns
// nil without error when there is nothing to do or the claim table is full.
func (p *Pool) Claim(ctx context.Context, workerID string) (*Batch, error) {
	pending, err := p.store.ListPendingRooms(ctx, p.clock.Now(), p.cfg.WorkerCount*4)
	if err != nil {
		return nil, fmt.Errorf("list pending rooms: %w", err)
	}
	for _, pr := range pending {
		b, err := p.claim(ctx, workerID, pr.RoomID, &pr.Cursor)
		switch {
		case err == nil && b != nil:
			return b, nil
		case err == nil, errors.Is(err, domain.ErrAlreadyClaimed):
			continue
		case errors.Is(err, domain.ErrResourceExhausted):
			p.logger.Debug("claim table full", "worker_id", workerID)
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, nil
}

// ClaimRoom claims one specific room. It fails with ErrAlreadyClaimed when
// another worker holds it and returns nil when the room has nothing pending.
func (p *Pool) ClaimRoom(ctx context.Context, workerID, roomID string) (*Batch, error) {
	return p.claim(ctx, workerID, roomID, nil)
}

func (p *Pool) claim(ctx context.Context, workerID, roomID string, cursor *domain.ConsumerOffset) (*Batch, error) {
	c, err := p.claims.Acquire(roomID, workerID, p.cfg.Lease)
	if err != nil {
		return nil, err
	}
	b, err := p.load(ctx, c, cursor)
	if err != nil || b == nil {
		p.claims.Release(c)
		return nil, err
	}
	p.metrics.SetClaimsInFlight(p.claims.Len())
	p.logger.Debug("room claimed", "room_id", roomID, "worker_id", workerID,
		"from", b.Events[0].Offset, "to", b.Last(), "attempts", b.Attempts)
	return b, nil
}

// load reads the batch after the cursor held in the store. The cursor is
// re-read under the claim so a concurrent ack is never replayed.
func (p *Pool) load(ctx context.Context, c Claim, hint *domain.ConsumerOffset) (*Batch, error) {
	cursor, err := p.store.GetConsumerOffset(ctx, c.RoomID)
	if err != nil {
		return nil, fmt.Errorf("read cursor %s: %w", c.RoomID, err)
	}
	if cursor == nil {
		if hint == nil {
			return nil, nil
		}
		cursor = hint
	}
	if cursor.NextAttemptAt != nil && p.clock.Now().Before(*cursor.NextAttemptAt) {
		return nil, nil
	}
	events, err := p.store.ReadEvents(ctx, c.RoomID, cursor.LastAcked, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", c.RoomID, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	b := &Batch{
		Claim:         c,
		Events:        events,
		Acked:         cursor.LastAcked,
		Attempts:      cursor.Attempts,
		FirstFailedAt: cursor.FirstFailedAt,
	}
	if err := p.store.MarkClaimed(ctx, c.RoomID, b.Last()); err != nil {
		return nil, fmt.Errorf("mark claimed %s: %w", c.RoomID, err)
	}
	return b, nil
}

// Renew extends the batch's lease. It fails with ErrLeaseLost once another
// worker may have taken the room over.
func (p *Pool) Renew(b *Batch) error {
	c, err := p.claims.Renew(b.Claim, p.cfg.Lease)
	if err != nil {
		return err
	}
	b.Claim = c
	return nil
}

// Validate reports whether the batch's claim is still live.
func (p *Pool) Validate(b *Batch) error {
	return p.claims.Validate(b.Claim)
}

// Acknowledge advances the room's cursor to upTo. The snapshot covering upTo
// must already be committed.
func (p *Pool) Acknowledge(ctx context.Context, b *Batch, upTo int64) error {
	if err := p.claims.Validate(b.Claim); err != nil {
		return err
	}
	if upTo <= b.Acked {
		return nil
	}
	if _, err := p.store.AdvanceAck(ctx, b.RoomID(), upTo, p.clock.Now()); err != nil {
		return fmt.Errorf("ack %s@%d: %w", b.RoomID(), upTo, err)
	}
	b.Acked = upTo
	b.Attempts = 0
	b.FirstFailedAt = nil
	return nil
}

// DeadLetterEvent sets one event aside without retry. The batch continues.
func (p *Pool) DeadLetterEvent(ctx context.Context, b *Batch, ev domain.Event, reason error) error {
	err := p.store.DeadLetterEvent(ctx, &domain.DeadLetter{
		RoomID:        ev.RoomID,
		Offset:        ev.Offset,
		Author:        ev.Author,
		Payload:       ev.Payload,
		FailureReason: reason.Error(),
		Attempts:      1,
		FirstFailedAt: p.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	p.metrics.AddDeadLetters(string(domain.Classify(reason)), 1)
	p.logger.Warn("event dead-lettered", "room_id", ev.RoomID, "offset", ev.Offset, "reason", reason)
	return nil
}

// Fail schedules the unacknowledged part of the batch for redelivery after an
// exponential backoff delay. Once MaxAttempts deliveries have failed the
// remaining events are dead-lettered, the room is flagged degraded and the
// cursor moves past them.
func (p *Pool) Fail(ctx context.Context, b *Batch, reason error) (FailOutcome, error) {
	now := p.clock.Now()
	attempts := b.Attempts + 1

	if attempts >= p.cfg.MaxAttempts {
		first := now.UTC()
		if b.FirstFailedAt != nil {
			first = *b.FirstFailedAt
		}
		var letters []domain.DeadLetter
		for _, ev := range b.Events {
			if ev.Offset <= b.Acked {
				continue
			}
			letters = append(letters, domain.DeadLetter{
				RoomID:        ev.RoomID,
				Offset:        ev.Offset,
				Author:        ev.Author,
				Payload:       ev.Payload,
				FailureReason: reason.Error(),
				Attempts:      attempts,
				FirstFailedAt: first,
			})
		}
		if err := p.store.DeadLetterBatch(ctx, b.RoomID(), letters, b.Last(), now); err != nil {
			return FailOutcome{}, fmt.Errorf("dead-letter batch %s: %w", b.RoomID(), err)
		}
		p.metrics.AddDeadLetters("retries_exhausted", len(letters))
		p.logger.Error("batch dead-lettered, room degraded",
			"room_id", b.RoomID(), "from", b.Acked+1, "to", b.Last(), "attempts", attempts, "reason", reason)
		p.release(b)
		return FailOutcome{Attempts: attempts, DeadLettered: true}, nil
	}

	next := now.Add(p.retryDelay(attempts))
	if _, err := p.store.RecordFailure(ctx, b.RoomID(), next, now); err != nil {
		return FailOutcome{}, fmt.Errorf("record failure %s: %w", b.RoomID(), err)
	}
	p.metrics.IncRedelivery()
	p.logger.Warn("batch failed, redelivery scheduled",
		"room_id", b.RoomID(), "attempts", attempts, "next_attempt_at", next, "reason", reason)
	p.release(b)
	return FailOutcome{Attempts: attempts, NextAttempt: next}, nil
}

// Release gives up the batch's claim.
func (p *Pool) Release(b *Batch) {
	p.release(b)
}

func (p *Pool) release(b *Batch) {
	p.claims.Release(b.Claim)
	p.metrics.SetClaimsInFlight(p.claims.Len())
}

// retryDelay is the jittered delay before delivery attempt n+1.
func (p *Pool) retryDelay(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.BackoffBase
	eb.MaxInterval = p.cfg.BackoffCap
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Clock = p.clock
	eb.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Run starts the workers and blocks until ctx is done. wake, when non-nil,
// cuts an idle worker's poll interval short.
func (p *Pool) Run(ctx context.Context, h Handler, wake <-chan struct{}) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.work(ctx, workerID, h, wake)
		}(fmt.Sprintf("worker-%d", i+1))
	}
	p.logger.Info("consumer pool started", "workers", p.cfg.WorkerCount, "batch_size", p.cfg.BatchSize)
	wg.Wait()
	p.logger.Info("consumer pool stopped")
}

func (p *Pool) work(ctx context.Context, workerID string, h Handler, wake <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}
		b, err := p.Claim(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("claim failed", "worker_id", workerID, "error", err)
		}
		if b == nil {
			timer := p.clock.Timer(p.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		p.RunBatch(ctx, b, h)
	}
}

// RunBatch processes one claimed batch and settles it: the committed prefix
// is acknowledged and a failure is retried or dead-lettered. The claim is
// always released.
func (p *Pool) RunBatch(ctx context.Context, b *Batch, h Handler) {
	defer p.release(b)

	committed, err := h.Process(ctx, b)
	if committed > b.Acked {
		if ackErr := p.Acknowledge(ctx, b, committed); ackErr != nil {
			p.logger.Warn("ack failed", "room_id", b.RoomID(), "offset", committed, "error", ackErr)
			return
		}
	}
	if err == nil {
		if committed < b.Last() {
			p.logger.Warn("batch partly committed", "room_id", b.RoomID(), "committed", committed, "last", b.Last())
		}
		return
	}

	if domain.Classify(err) == domain.KindFencing || p.claims.Validate(b.Claim) != nil {
		p.logger.Warn("lease lost, abandoning batch", "room_id", b.RoomID(), "worker_id", b.Claim.WorkerID, "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, failErr := p.Fail(ctx, b, err); failErr != nil {
		p.logger.Error("settle failed batch", "room_id", b.RoomID(), "error", failErr)
	}
}
