package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/proofbench/pkg/timing"
	"github.com/redis/go-redis/v9"
)

// Client provides run-scoped Redis operations.
// All keys and channels are namespaced with the run ID.
// The client is safe for concurrent use.
type Client struct {
	rdb   *redis.Client
	runID string
}

// NewClient creates a client for the given run.
// Returns an error if runID is empty.
func NewClient(redisOpts *redis.Options, runID string) (*Client, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}
	return &Client{
		rdb:   redis.NewClient(redisOpts),
		runID: runID,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client for the run.
func NewClientFromURL(url, runID string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, runID)
}

// RunID returns the run this client is scoped to.
func (c *Client) RunID() string {
	return c.runID
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StartRun stores the run metadata with status running and adds the run
// to the runs index. RunID and StartedAtMs are filled in when unset.
func (c *Client) StartRun(ctx context.Context, meta *RunMeta) error {
	if meta.RunID == "" {
		meta.RunID = c.runID
	}
	if meta.RunID != c.runID {
		return fmt.Errorf("run ID mismatch: client is scoped to %s, metadata is for %s", c.runID, meta.RunID)
	}
	if meta.StartedAtMs == 0 {
		meta.StartedAtMs = time.Now().UnixMilli()
	}
	meta.Status = RunStatusRunning

	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid run metadata: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, RecordsKey(c.runID))
	pipe.HSet(ctx, MetaKey(c.runID), MetaToHash(meta))
	pipe.ZAdd(ctx, RunsKey(), redis.Z{Score: float64(meta.StartedAtMs), Member: c.runID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write run metadata to Redis: %w", err)
	}

	return c.publish(ctx, &Event{Type: EventRunStarted, Run: meta})
}

// PublishRecord appends a record to the run's record list and announces it.
func (c *Client) PublishRecord(ctx context.Context, rec timing.TimingRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := c.rdb.RPush(ctx, RecordsKey(c.runID), recJSON).Err(); err != nil {
		return fmt.Errorf("failed to write record to Redis: %w", err)
	}

	return c.publish(ctx, &Event{Type: EventRecord, Record: &rec})
}

// FinishRun marks the run as ended with the given status and totals and
// announces it. Subscribers stop after this event.
func (c *Client) FinishRun(ctx context.Context, status RunStatus, recorded, launchFailures int) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish run with status %q", status)
	}

	key := MetaKey(c.runID)
	fields := map[string]interface{}{
		"status":          string(status),
		"finished_at_ms":  time.Now().UnixMilli(),
		"recorded":        recorded,
		"launch_failures": launchFailures,
	}
	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to update run metadata: %w", err)
	}

	meta, err := c.GetRun(ctx)
	if err != nil {
		return err
	}
	return c.publish(ctx, &Event{Type: EventRunFinished, Run: meta})
}

func (c *Client) publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if err := c.rdb.Publish(ctx, RecordEventsChannel(c.runID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}

// GetRun retrieves the run metadata.
// Returns (nil, redis.Nil) if the run doesn't exist.
func (c *Client) GetRun(ctx context.Context) (*RunMeta, error) {
	hashData, err := c.rdb.HGetAll(ctx, MetaKey(c.runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	meta, err := HashToMeta(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run metadata: %w", err)
	}
	return meta, nil
}

// Records returns every record published so far, in publication order.
func (c *Client) Records(ctx context.Context) ([]timing.TimingRecord, error) {
	raw, err := c.rdb.LRange(ctx, RecordsKey(c.runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records from Redis: %w", err)
	}

	records := make([]timing.TimingRecord, 0, len(raw))
	for i, r := range raw {
		var rec timing.TimingRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestRunID returns the most recently started run known to Redis.
// Returns ("", redis.Nil) if no run has been recorded.
func LatestRunID(ctx context.Context, redisOpts *redis.Options) (string, error) {
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ids, err := rdb.ZRevRange(ctx, RunsKey(), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read runs index: %w", err)
	}
	if len(ids) == 0 {
		return "", redis.Nil
	}
	return ids[0], nil
}

// Subscription represents an active subscription to a run's events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of run events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
// Malformed messages are reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe subscribes to the run's events. It returns once Redis has
// confirmed the subscription, so anything published afterwards is delivered.
//
// Events are delivered on a buffered channel (size 64). Redis Pub/Sub is
// at-most-once; pair Subscribe with Records to catch up on history.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, RecordEventsChannel(c.runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	eventsChan := make(chan *Event, 64)
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

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal run event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
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
