// Package redis implements the hosted-b store on Redis using
// github.com/redis/go-redis/v9. Records live in hashes under a key prefix and
// sync envelopes travel over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/event-checkin/internal/persistence"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix     = "checkin"
	defaultRetryCount = 10
)

// claimName inserts the attendee only when its name key is unclaimed.
// KEYS[1] = attendees hash, KEYS[2] = names hash
// ARGV[1] = id, ARGV[2] = name key, ARGV[3] = attendee JSON
var claimName = goredis.NewScript(`
if redis.call("HSETNX", KEYS[2], ARGV[2], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// Options configures the store.
type Options struct {
	// URL is a redis:// connection string.
	URL string
	// Password overrides the password in URL when set.
	Password string
	// Prefix namespaces the keys. Defaults to DefaultPrefix.
	Prefix string
	// MaxRetryCount bounds optimistic transaction retries.
	MaxRetryCount int
}

// Store is a persistence.Store backed by Redis hashes.
type Store struct {
	client     *goredis.Client
	prefix     string
	maxRetries int
	logger     *slog.Logger
}

// Open parses opts.URL and builds a client. No command is sent until the
// first operation, Probe included.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	clientOpts, err := goredis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if opts.Password != "" {
		clientOpts.Password = opts.Password
	}
	return New(goredis.NewClient(clientOpts), opts, logger), nil
}

// New wraps an existing client.
func New(client *goredis.Client, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	retries := opts.MaxRetryCount
	if retries <= 0 {
		retries = defaultRetryCount
	}
	return &Store{
		client:     client,
		prefix:     prefix,
		maxRetries: retries,
		logger:     logger.With("component", "redis_store", "prefix", prefix),
	}
}

// Client exposes the client for transports sharing the connection.
func (s *Store) Client() *goredis.Client { return s.client }

// Prefix returns the key namespace.
func (s *Store) Prefix() string { return s.prefix }

func (s *Store) attendeesKey() string { return s.prefix + ":attendees" }
func (s *Store) namesKey() string     { return s.prefix + ":attendee_names" }
func (s *Store) surveysKey() string   { return s.prefix + ":surveys" }

// Name implements persistence.Store.
func (s *Store) Name() string { return "hosted-b" }

// Probe pings the server and performs a bounded read.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	if err := s.client.HLen(ctx, s.attendeesKey()).Err(); err != nil {
		return fmt.Errorf("redis: probe: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ListAttendees implements persistence.Store.
func (s *Store) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	values, err := s.client.HVals(ctx, s.attendeesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list attendees: %w", err)
	}
	attendees := make([]persistence.Attendee, 0, len(values))
	for _, value := range values {
		var attendee persistence.Attendee
		if err := json.Unmarshal([]byte(value), &attendee); err != nil {
			return nil, fmt.Errorf("redis: decode attendee: %w", err)
		}
		attendees = append(attendees, attendee)
	}
	persistence.SortAttendees(attendees)
	return attendees, nil
}

// CreateAttendee claims the name key and stores the record atomically.
func (s *Store) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	data, err := json.Marshal(attendee)
	if err != nil {
		return fmt.Errorf("redis: encode attendee: %w", err)
	}
	claimed, err := claimName.Run(ctx, s.client,
		[]string{s.attendeesKey(), s.namesKey()},
		attendee.ID, persistence.NameKey(attendee.Name), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: create attendee: %w", err)
	}
	if claimed == 0 {
		return persistence.ErrDuplicateName
	}
	return nil
}

// watchAttendee runs fn inside WATCH on the attendees hash, retrying when a
// concurrent writer invalidates the transaction.
func (s *Store) watchAttendee(ctx context.Context, fn func(tx *goredis.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, s.attendeesKey())
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("concurrent modification, retrying", "attempt", attempt+1)
			continue
		}
		return err
	}
	return fmt.Errorf("redis: too many concurrent modifications (%d retries)", s.maxRetries)
}

func (s *Store) getAttendee(ctx context.Context, tx *goredis.Tx, id string) (persistence.Attendee, error) {
	value, err := tx.HGet(ctx, s.attendeesKey(), id).Result()
	if errors.Is(err, goredis.Nil) {
		return persistence.Attendee{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Attendee{}, fmt.Errorf("redis: get attendee: %w", err)
	}
	var attendee persistence.Attendee
	if err := json.Unmarshal([]byte(value), &attendee); err != nil {
		return persistence.Attendee{}, fmt.Errorf("redis: decode attendee: %w", err)
	}
	return attendee, nil
}

// SetPresence implements persistence.Store with WATCH/MULTI.
func (s *Store) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	var updated persistence.Attendee
	err := s.watchAttendee(ctx, func(tx *goredis.Tx) error {
		current, err := s.getAttendee(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = persistence.ApplyPresence(current, present, at)
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("redis: encode attendee: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, s.attendeesKey(), id, string(data))
			return nil
		})
		return err
	})
	if err != nil {
		return persistence.Attendee{}, err
	}
	return updated, nil
}

// DeleteAttendee removes the record and releases its name key.
func (s *Store) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.watchAttendee(ctx, func(tx *goredis.Tx) error {
		current, err := s.getAttendee(ctx, tx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			removed = false
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HDel(ctx, s.attendeesKey(), id)
			pipe.HDel(ctx, s.namesKey(), persistence.NameKey(current.Name))
			return nil
		})
		removed = err == nil
		return err
	})
	return removed, err
}

// ClearAttendees implements persistence.Store.
func (s *Store) ClearAttendees(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.attendeesKey(), s.namesKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: clear attendees: %w", err)
	}
	return nil
}

// ListSurveys implements persistence.Store.
func (s *Store) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	values, err := s.client.HVals(ctx, s.surveysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list surveys: %w", err)
	}
	surveys := make([]persistence.SurveyResponse, 0, len(values))
	for _, value := range values {
		var survey persistence.SurveyResponse
		if err := json.Unmarshal([]byte(value), &survey); err != nil {
			return nil, fmt.Errorf("redis: decode survey: %w", err)
		}
		surveys = append(surveys, survey)
	}
	persistence.SortSurveys(surveys)
	return surveys, nil
}

// CreateSurvey implements persistence.Store.
func (s *Store) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	data, err := json.Marshal(survey)
	if err != nil {
		return fmt.Errorf("redis: encode survey: %w", err)
	}
	created, err := s.client.HSetNX(ctx, s.surveysKey(), survey.ID, string(data)).Result()
	if err != nil {
		return fmt.Errorf("redis: create survey: %w", err)
	}
	if !created {
		return fmt.Errorf("redis: survey %s already exists", survey.ID)
	}
	return nil
}

// ClearSurveys implements persistence.Store.
func (s *Store) ClearSurveys(ctx context.Context) error {
	if err := s.client.Del(ctx, s.surveysKey()).Err(); err != nil {
		return fmt.Errorf("redis: clear surveys: %w", err)
	}
	return nil
}

// ReplaceAll rewrites every hash in one MULTI/EXEC block.
func (s *Store) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	attendeeValues := make(map[string]any, len(attendees))
	nameValues := make(map[string]any, len(attendees))
	for _, attendee := range attendees {
		key := persistence.NameKey(attendee.Name)
		if _, ok := nameValues[key]; ok {
			return persistence.ErrDuplicateName
		}
		data, err := json.Marshal(attendee)
		if err != nil {
			return fmt.Errorf("redis: encode attendee: %w", err)
		}
		attendeeValues[attendee.ID] = string(data)
		nameValues[key] = attendee.ID
	}
	surveyValues := make(map[string]any, len(surveys))
	for _, survey := range surveys {
		data, err := json.Marshal(survey)
		if err != nil {
			return fmt.Errorf("redis: encode survey: %w", err)
		}
		surveyValues[survey.ID] = string(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.attendeesKey(), s.namesKey(), s.surveysKey())
		if len(attendeeValues) > 0 {
			pipe.HSet(ctx, s.attendeesKey(), attendeeValues)
			pipe.HSet(ctx, s.namesKey(), nameValues)
		}
		if len(surveyValues) > 0 {
			pipe.HSet(ctx, s.surveysKey(), surveyValues)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: replace all: %w", err)
	}
	return nil
}
