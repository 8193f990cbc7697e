package processor

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"mysql-livefeed/internal/models"
)

// Source is the change log contract the poller consumes.
type Source interface {
	FetchUndelivered(ctx context.Context, afterID int64, limit int) ([]models.ChangeRecord, error)
	MarkDelivered(ctx context.Context, id int64) error
	MaxDeliveredID(ctx context.Context) (int64, error)
	PruneDelivered(ctx context.Context, keep int) error
}

// Sink receives each normalized change message. Publish must enqueue and
// return; it must never block on a slow consumer.
type Sink interface {
	Publish(msg *models.Message) error
}

// Options tune the poll loop. Zero values fall back to the defaults below.
type Options struct {
	PollInterval     time.Duration // how often to fetch a batch (default 200ms)
	BatchSize        int           // max records per tick (default 50)
	RetentionKeep    int           // delivered records to keep (default 1000)
	SweepProbability float64       // chance a tick triggers a sweep (default 0.1)
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.RetentionKeep <= 0 {
		o.RetentionKeep = 1000
	}
	if o.SweepProbability <= 0 {
		o.SweepProbability = 0.1
	}
}

// Processor drives the change pipeline: fetch undelivered records in id
// order, normalize, publish to every sink, mark delivered, advance the
// cursor. A single goroutine owns the loop so ticks never overlap.
type Processor struct {
	source      Source
	sinks       []Sink
	cursor      *Cursor
	opts        Options
	logger      *logrus.Logger
	rng         *rand.Rand
	initialized bool
}

// NewProcessor creates a poller over the given source, fanning out to sinks.
func NewProcessor(source Source, sinks []Sink, opts Options, logger *logrus.Logger) *Processor {
	opts.applyDefaults()
	return &Processor{
		source: source,
		sinks:  sinks,
		cursor: &Cursor{},
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Cursor exposes the poller's cursor, mainly for observability and tests.
func (p *Processor) Cursor() *Cursor {
	return p.cursor
}

// Init seeds the cursor from the store's delivered flags. Callers run it
// before serving subscribers: a cursor that cannot initialize is a startup
// failure, not something to retry into.
func (p *Processor) Init(ctx context.Context) error {
	if p.initialized {
		return nil
	}
	if err := p.cursor.Initialize(ctx, p.source); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

// Start runs the poll loop until the context is cancelled. Every error past
// initialization is contained to its tick or record.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.Init(ctx); err != nil {
		return err
	}
	p.logger.Infof("Change poller starting at cursor %d (interval %s, batch %d)",
		p.cursor.Value(), p.opts.PollInterval, p.opts.BatchSize)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, stopping change poller")
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes one batch. Exported so tests can drive the loop directly.
func (p *Processor) Tick(ctx context.Context) {
	records, err := p.source.FetchUndelivered(ctx, p.cursor.Value(), p.opts.BatchSize)
	if err != nil {
		// Transient store trouble: abort the tick with no side effects and
		// let the next tick retry from the same cursor.
		p.logger.Errorf("Error fetching undelivered changes: %v", err)
		return
	}

	for i := range records {
		rec := &records[i]

		event, err := Normalize(rec)
		if err != nil {
			// Poison record: the payload will never parse better on a retry.
			// Mark it delivered below and move on.
			p.logger.Warnf("Dropping change %d: %v", rec.ID, err)
		} else {
			if rec.Operation == models.OpUpdate && event.Before == nil && rec.Before != nil {
				p.logger.Warnf("Change %d: UPDATE before image unusable, delivering without it", rec.ID)
			}
			p.publish(event.Message())
		}

		if err := p.source.MarkDelivered(ctx, rec.ID); err != nil {
			// Do not advance past this record; the next tick refetches it and
			// subscribers may see the same event twice (at-least-once).
			p.logger.Errorf("Failed to mark change %d delivered, will retry: %v", rec.ID, err)
			return
		}
		if err := p.cursor.Advance(rec.ID); err != nil {
			p.logger.Errorf("Invariant violation: %v", err)
		}
	}

	if len(records) > 0 {
		p.logger.Debugf("Delivered %d changes, cursor at %d", len(records), p.cursor.Value())
	}

	p.maybeSweep(ctx)
}

func (p *Processor) publish(msg *models.Message) {
	for _, sink := range p.sinks {
		if err := sink.Publish(msg); err != nil {
			// Sink errors never block the cursor; a sink that lost an event
			// is expected to resynchronize on its own (reconnect + snapshot).
			p.logger.Errorf("Error publishing change %d: %v", msg.ChangeID, err)
		}
	}
}

// maybeSweep probabilistically trims aged-out delivered records. Retention is
// best effort and never affects delivery.
func (p *Processor) maybeSweep(ctx context.Context) {
	if p.rng.Float64() >= p.opts.SweepProbability {
		return
	}
	if err := p.source.PruneDelivered(ctx, p.opts.RetentionKeep); err != nil {
		p.logger.Warnf("Retention sweep failed: %v", err)
	}
}
