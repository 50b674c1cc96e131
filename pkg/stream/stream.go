// Package stream wraps incremental completion producers with a persistent
// response cache.
//
// On a miss every chunk is forwarded to the caller as soon as the producer
// yields it, and the concatenated text is committed only after the producer
// finishes without error. A hit replays the stored text as a single chunk.
// Errors, cancellation and consumers that stop reading early all leave the
// cache untouched.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexshell/cortex/pkg/fingerprint"
	"github.com/cortexshell/cortex/pkg/models"
)

// Producer yields a response incrementally. A non-nil error ends the
// sequence.
type Producer interface {
	Stream(ctx context.Context, req models.ChatCompletionRequest) iter.Seq2[string, error]
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, req models.ChatCompletionRequest) iter.Seq2[string, error]

// Stream calls f.
func (f ProducerFunc) Stream(ctx context.Context, req models.ChatCompletionRequest) iter.Seq2[string, error] {
	return f(ctx, req)
}

// Store is the persistence the cache needs. filestore.Store implements it.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, text string) error
}

// Recorder receives one event per Stream call.
type Recorder interface {
	Record(ctx context.Context, ev models.CacheEvent) error
}

// Cache composes a Store with producers.
type Cache struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRecorder reports the outcome of every call to r.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream returns the response to req as a sequence of chunks.
//
// With caching disabled the producer's sequence is forwarded unchanged and the
// store is not touched. Otherwise a stored response is replayed as exactly one
// chunk, and a missing one is produced, forwarded chunk by chunk, and stored
// once the producer completes. A failed store write is reported as the last
// element, after every chunk has been delivered.
func (c *Cache) Stream(ctx context.Context, req models.ChatCompletionRequest, caching bool, producer Producer) iter.Seq2[string, error] {
	if !caching {
		return c.bypass(ctx, req, producer)
	}
	return func(yield func(string, error) bool) {
		ev := models.CacheEvent{Model: req.Model}
		defer func() { c.record(ctx, ev) }()

		fp := fingerprint.Of(req).String()
		ev.Fingerprint = fp

		cached, ok, err := c.store.Get(fp)
		if err != nil {
			ev.Outcome = models.OutcomeFailed
			yield("", err)
			return
		}
		if ok {
			c.logger.Debug("cache hit", "fingerprint", fp, "model", req.Model)
			ev.Outcome, ev.Chunks, ev.Bytes = models.OutcomeHit, 1, len(cached)
			yield(cached, nil)
			return
		}

		c.logger.Debug("cache miss", "fingerprint", fp, "model", req.Model)
		var buf strings.Builder
		for chunk, err := range producer.Stream(ctx, req) {
			if err != nil {
				ev.Outcome = models.OutcomeFailed
				yield("", err)
				return
			}
			buf.WriteString(chunk)
			ev.Chunks++
			ev.Bytes += len(chunk)
			if !yield(chunk, nil) {
				ev.Outcome = models.OutcomeAborted
				return
			}
		}

		// The producer may end quietly after an interrupt.
		if err := ctx.Err(); err != nil {
			ev.Outcome = models.OutcomeAborted
			yield("", err)
			return
		}

		if err := c.store.Put(fp, buf.String()); err != nil {
			ev.Outcome = models.OutcomeFailed
			yield("", err)
			return
		}
		c.logger.Debug("cache stored", "fingerprint", fp, "bytes", buf.Len(), "chunks", ev.Chunks)
		ev.Outcome = models.OutcomeStored
	}
}

func (c *Cache) bypass(ctx context.Context, req models.ChatCompletionRequest, producer Producer) iter.Seq2[string, error] {
	if c.recorder == nil {
		return producer.Stream(ctx, req)
	}
	return func(yield func(string, error) bool) {
		ev := models.CacheEvent{Model: req.Model, Outcome: models.OutcomeBypass}
		defer func() { c.record(ctx, ev) }()

		for chunk, err := range producer.Stream(ctx, req) {
			if err != nil {
				ev.Outcome = models.OutcomeFailed
				yield(chunk, err)
				return
			}
			ev.Chunks++
			ev.Bytes += len(chunk)
			if !yield(chunk, nil) {
				ev.Outcome = models.OutcomeAborted
				return
			}
		}
	}
}

func (c *Cache) record(ctx context.Context, ev models.CacheEvent) {
	if c.recorder == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.CreatedAt = c.now().UTC()
	// The caller's context may already be cancelled; the event still counts.
	if err := c.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("record cache event", "outcome", ev.Outcome, "error", err)
	}
}

// Client binds a producer to a Cache.
type Client struct {
	cache    *Cache
	producer Producer
}

// Client returns a Client that serves completions from producer through c.
func (c *Cache) Client(producer Producer) *Client {
	return &Client{cache: c, producer: producer}
}

// Complete streams the response to req, consulting the cache when caching
// is true.
func (cl *Client) Complete(ctx context.Context, req models.ChatCompletionRequest, caching bool) iter.Seq2[string, error] {
	return cl.cache.Stream(ctx, req, caching, cl.producer)
}

// Collect drains seq into a single string, stopping at the first error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
