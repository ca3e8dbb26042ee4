package broker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/bibliograph/bibliograph/pkg/database"
	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 3
	defaultClaimTTL     = 5 * time.Minute
	busyRetries         = 5
)

// SQLiteBroker is a durable broker over the broker_messages table. Messages
// survive restarts; workers claim pending rows by writing their id, and
// claims older than the TTL are handed back to the pool so a dead worker
// cannot strand its messages. Workers sets how many claim loops run in
// parallel; a handler that blocks only ties up its own loop.
type SQLiteBroker struct {
	db           *bun.DB
	id           string
	pollInterval time.Duration
	maxAttempts  int
	claimTTL     time.Duration
	workers      int

	mu       sync.Mutex
	handlers map[string]Handler

	shutdown chan struct{}
	wg       sync.WaitGroup
	started  bool
}

type SQLiteBrokerOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
	ClaimTTL     time.Duration
	Workers      int
}

func NewSQLiteBroker(db *bun.DB, opts SQLiteBrokerOptions) *SQLiteBroker {
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ClaimTTL == 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	return &SQLiteBroker{
		db:           db,
		id:           uuid.New().String(),
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		claimTTL:     opts.ClaimTTL,
		workers:      opts.Workers,
		handlers:     map[string]Handler{},
	}
}

func (b *SQLiteBroker) Publish(ctx context.Context, topic string, payload string) error {
	message := &models.BrokerMessage{
		Topic:     topic,
		Payload:   payload,
		Status:    models.BrokerMessagePending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		_, err := b.db.NewInsert().Model(message).Exec(ctx)
		return err
	})
	return errors.WithStack(err)
}

// Subscribe registers the handler for a topic. One handler per topic; the
// poll loop picks registrations up on its next pass.
func (b *SQLiteBroker) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
}

// Start launches the worker loops. Call Stop to drain and shut down.
func (b *SQLiteBroker) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.shutdown = make(chan struct{})
	b.mu.Unlock()

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		// Only the first worker reclaims; one sweep per tick is enough.
		go b.loop(ctx, i == 0)
	}
}

// Stop waits for every worker's in-flight handler to return.
func (b *SQLiteBroker) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	shutdown := b.shutdown
	b.mu.Unlock()

	close(shutdown)
	b.wg.Wait()
}

func (b *SQLiteBroker) loop(ctx context.Context, reclaims bool) {
	defer b.wg.Done()

	log := logger.FromContext(ctx)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case <-ticker.C:
			if reclaims {
				if err := b.reclaimStale(ctx); err != nil {
					log.Err(err).Error("reclaiming stale broker claims")
				}
			}
			b.drainOnce(ctx, log)
		}
	}
}

// drainOnce claims and processes at most one message per subscribed topic.
func (b *SQLiteBroker) drainOnce(ctx context.Context, log logger.Logger) {
	b.mu.Lock()
	topics := make(map[string]Handler, len(b.handlers))
	for topic, handler := range b.handlers {
		topics[topic] = handler
	}
	b.mu.Unlock()

	for topic, handler := range topics {
		message, err := b.claim(ctx, topic)
		if err != nil {
			log.Err(err).Error("claiming broker message")
			continue
		}
		if message == nil {
			continue
		}

		if err := handler(ctx, message.Payload); err != nil {
			log.Err(err).Error("broker handler failed")
			if err := b.release(ctx, message); err != nil {
				log.Err(err).Error("releasing broker message")
			}
			continue
		}

		if err := b.complete(ctx, message); err != nil {
			log.Err(err).Error("completing broker message")
		}
	}
}

// claim atomically takes the oldest pending message on a topic. The update
// re-checks status so two workers can never claim the same row.
func (b *SQLiteBroker) claim(ctx context.Context, topic string) (*models.BrokerMessage, error) {
	var claimed *models.BrokerMessage

	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		claimed = nil
		return b.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			message := &models.BrokerMessage{}
			err := tx.NewSelect().
				Model(message).
				Where("topic = ?", topic).
				Where("status = ?", models.BrokerMessagePending).
				Order("id ASC").
				Limit(1).
				Scan(ctx)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return errors.WithStack(err)
			}

			now := time.Now()
			res, err := tx.NewUpdate().
				Model((*models.BrokerMessage)(nil)).
				Set("status = ?", models.BrokerMessageInFlight).
				Set("claimed_by = ?", b.id).
				Set("claimed_at = ?", now).
				Set("attempts = attempts + 1").
				Set("updated_at = ?", now).
				Where("id = ?", message.ID).
				Where("status = ?", models.BrokerMessagePending).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return nil
			}

			message.Status = models.BrokerMessageInFlight
			message.Attempts++
			claimed = message
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return claimed, nil
}

func (b *SQLiteBroker) complete(ctx context.Context, message *models.BrokerMessage) error {
	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		_, err := b.db.NewUpdate().
			Model((*models.BrokerMessage)(nil)).
			Set("status = ?", models.BrokerMessageDone).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", message.ID).
			Exec(ctx)
		return err
	})
	return errors.WithStack(err)
}

// release puts a failed message back in the pool, or dead-letters it once
// its attempts are spent.
func (b *SQLiteBroker) release(ctx context.Context, message *models.BrokerMessage) error {
	status := models.BrokerMessagePending
	if message.Attempts >= b.maxAttempts {
		status = models.BrokerMessageDeadLetter
	}

	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		_, err := b.db.NewUpdate().
			Model((*models.BrokerMessage)(nil)).
			Set("status = ?", status).
			Set("claimed_by = NULL").
			Set("claimed_at = NULL").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", message.ID).
			Exec(ctx)
		return err
	})
	return errors.WithStack(err)
}

// reclaimStale hands expired in-flight claims back to the pool.
func (b *SQLiteBroker) reclaimStale(ctx context.Context) error {
	cutoff := time.Now().Add(-b.claimTTL)
	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		_, err := b.db.NewUpdate().
			Model((*models.BrokerMessage)(nil)).
			Set("status = ?", models.BrokerMessagePending).
			Set("claimed_by = NULL").
			Set("claimed_at = NULL").
			Set("updated_at = ?", time.Now()).
			Where("status = ?", models.BrokerMessageInFlight).
			Where("claimed_at < ?", cutoff).
			Exec(ctx)
		return err
	})
	return errors.WithStack(err)
}

// NewCountdown creates (or resets) a durable completion counter.
func (b *SQLiteBroker) NewCountdown(ctx context.Context, key string, n int) error {
	counter := &models.BrokerCounter{
		Key:       key,
		Remaining: n,
		UpdatedAt: time.Now(),
	}
	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		_, err := b.db.NewInsert().
			Model(counter).
			On("CONFLICT (key) DO UPDATE").
			Set("remaining = EXCLUDED.remaining").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	return errors.WithStack(err)
}

// Decrement takes one off the counter and reports whether it hit zero. The
// decrement and read happen in one transaction, so exactly one caller
// observes the transition to zero.
func (b *SQLiteBroker) Decrement(ctx context.Context, key string) (bool, error) {
	var reachedZero bool

	err := database.WithBusyRetry(ctx, busyRetries, func() error {
		reachedZero = false
		return b.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			res, err := tx.NewUpdate().
				Model((*models.BrokerCounter)(nil)).
				Set("remaining = remaining - 1").
				Set("updated_at = ?", time.Now()).
				Where("key = ?", key).
				Where("remaining > 0").
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return errors.Errorf("unknown or exhausted countdown %s", key)
			}

			counter := &models.BrokerCounter{}
			err = tx.NewSelect().Model(counter).Where("key = ?", key).Scan(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			reachedZero = counter.Remaining <= 0
			return nil
		})
	})
	if err != nil {
		return false, errors.WithStack(err)
	}
	return reachedZero, nil
}
