package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"media-gateway/internal/models"
)

// Store keeps async status records in Redis and fans out changes over pub/sub.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, prefix: "gateway:status:", ttl: ttl, now: time.Now}
}

func (s *Store) key(id string) string     { return s.prefix + id }
func (s *Store) channel(id string) string { return s.prefix + "events:" + id }

// Put overwrites the record for rec.JobID and notifies watchers.
func (s *Store) Put(ctx context.Context, rec models.StatusRecord) error {
	if rec.JobID == "" {
		return errors.New("status record without job id")
	}
	rec.ElapsedMs = 0
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.JobID), body, s.ttl)
	pipe.Publish(ctx, s.channel(rec.JobID), body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store status %s: %w", rec.JobID, err)
	}
	return nil
}

// Get returns the record with ElapsedMs computed at read time.
func (s *Store) Get(ctx context.Context, id string) (models.StatusRecord, error) {
	body, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.StatusRecord{}, fmt.Errorf("%w: %s", models.ErrUnknownJob, id)
	}
	if err != nil {
		return models.StatusRecord{}, fmt.Errorf("load status %s: %w", id, err)
	}
	var rec models.StatusRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return models.StatusRecord{}, fmt.Errorf("decode status %s: %w", id, err)
	}
	s.fillElapsed(&rec)
	return rec, nil
}

func (s *Store) fillElapsed(rec *models.StatusRecord) {
	end := s.now()
	if rec.CompletedAt != nil {
		end = *rec.CompletedAt
	}
	if !rec.StartTime.IsZero() && end.After(rec.StartTime) {
		rec.ElapsedMs = end.Sub(rec.StartTime).Milliseconds()
	}
}

// Updates streams every record written for id until ctx is done or the
// returned close func is called. Subscription is confirmed before returning.
func (s *Store) Updates(ctx context.Context, id string) (<-chan models.StatusRecord, func() error, error) {
	ps := s.client.Subscribe(ctx, s.channel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe status %s: %w", id, err)
	}
	out := make(chan models.StatusRecord, 4)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec models.StatusRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				s.fillElapsed(&rec)
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, ps.Close, nil
}
