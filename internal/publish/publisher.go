// Package publish sends finished scan results to Redis. Every result is
// published as JSON on the instance's scan_events channel, and results that
// identify a tag are also cached under the tag's key with a TTL so the latest
// reading per spool can be fetched without subscribing.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/spoolscan/internal/instance"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// DefaultTTL is how long the latest result for a tag is kept.
const DefaultTTL = 24 * time.Hour

// Publisher provides instance-scoped result publishing.
// It is safe for concurrent use.
type Publisher struct {
	rdb          *redis.Client
	instanceName string
	ttl          time.Duration
	logger       *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTTL sets how long tag keys live. Zero or negative selects DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// NewPublisher creates a publisher for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: namespace for keys and channels (DNS-style name)
//
// Returns an error if instanceName is empty or invalid.
func NewPublisher(redisOpts *redis.Options, instanceName string, opts ...Option) (*Publisher, error) {
	if err := instance.ValidateName(instanceName); err != nil {
		return nil, err
	}

	p := &Publisher{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		ttl:          DefaultTTL,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "publish", "instance", instanceName)
	return p, nil
}

// NewPublisherFromURL parses a redis:// URL and creates a publisher.
func NewPublisherFromURL(url, instanceName string, opts ...Option) (*Publisher, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewPublisher(redisOpts, instanceName, opts...)
}

// Close closes the Redis connection. Implements io.Closer.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Ping verifies Redis connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Publish caches res under its tag key (when it names a tag) and publishes
// it on the scan_events channel.
func (p *Publisher) Publish(ctx context.Context, res spooltag.ScanResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %w", err)
	}

	if res.TagUID != "" {
		key := TagKey(p.instanceName, res.TagUID)
		if err := p.rdb.Set(ctx, key, data, p.ttl).Err(); err != nil {
			return fmt.Errorf("failed to write tag result to Redis: %w", err)
		}
	}

	channel := ScanEventsChannel(p.instanceName)
	receivers, err := p.rdb.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish scan event: %w", err)
	}

	p.logger.Debug("published scan result",
		"event_type", "scan_published",
		"scan_id", res.ScanID,
		"kind", res.Kind,
		"receivers", receivers)
	return nil
}

// Latest returns the most recent cached result for uid.
// Returns (nil, redis.Nil) when nothing is cached; use IsNotFound.
func (p *Publisher) Latest(ctx context.Context, uid string) (*spooltag.ScanResult, error) {
	data, err := p.rdb.Get(ctx, TagKey(p.instanceName, uid)).Bytes()
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read tag result from Redis: %w", err)
	}

	var res spooltag.ScanResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tag result: %w", err)
	}
	return &res, nil
}

// ScanTags returns the UIDs with a cached result whose hex starts with
// prefix, sorted. An empty prefix matches every cached tag.
// Uses Redis SCAN so large caches do not block the server.
func (p *Publisher) ScanTags(ctx context.Context, prefix string) ([]string, error) {
	base := TagKey(p.instanceName, "")
	iter := p.rdb.Scan(ctx, 0, TagKey(p.instanceName, prefix)+"*", 0).Iterator()

	var uids []string
	for iter.Next(ctx) {
		uids = append(uids, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tag keys: %w", err)
	}

	sort.Strings(uids)
	return uids, nil
}

// InstanceName returns the namespace this publisher writes to.
func (p *Publisher) InstanceName() string {
	return p.instanceName
}

// Subscription is an active subscription to scan result events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan spooltag.ScanResult
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of results. It is closed when the subscription
// is closed or its context is cancelled.
func (s *Subscription) Events() <-chan spooltag.ScanResult {
	return s.events
}

// Errors returns non-fatal subscription errors. Undecodable messages are
// reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe subscribes to scan result events for this instance. The
// subscription is confirmed by Redis before Subscribe returns.
func (p *Publisher) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := p.rdb.Subscribe(ctx, ScanEventsChannel(p.instanceName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to scan events: %w", err)
	}

	eventsChan := make(chan spooltag.ScanResult, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var res spooltag.ScanResult
				if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal scan event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- res:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
