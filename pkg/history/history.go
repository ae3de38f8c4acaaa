// Package history keeps a log of stable readings in a Redis stream.
package history

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/scale"
)

const (
	DefaultStream = "scale:readings"
	DefaultMaxLen = 10000
)

// Entry is one stable reading. Grams is canonical; Unit is what the scale
// displayed at the time.
type Entry struct {
	ID    string     `json:"id,omitempty"`
	At    time.Time  `json:"at"`
	Grams float64    `json:"grams"`
	Unit  scale.Unit `json:"unit"`
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// Redis appends entries to a capped stream.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}

	logrus.WithFields(logrus.Fields{"addr": opts.Addr, "stream": opts.Stream}).Info("recording stable readings to redis")
	return &Redis{client: client, stream: opts.Stream, maxLen: opts.MaxLen}, nil
}

// Record appends e to the stream, trimming it to roughly MaxLen entries.
func (r *Redis) Record(ctx context.Context, e Entry) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: values(e),
	}).Err()
}

// Recent returns up to n entries, newest first.
func (r *Redis) Recent(ctx context.Context, n int64) ([]Entry, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", n).Result()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read stream %s", r.stream)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e, err := parse(m)
		if err != nil {
			logrus.WithError(err).WithField("id", m.ID).Debug("skipping malformed history entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func values(e Entry) map[string]interface{} {
	return map[string]interface{}{
		"grams": strconv.FormatFloat(e.Grams, 'f', -1, 64),
		"unit":  e.Unit.String(),
		"at":    e.At.UTC().Format(time.RFC3339Nano),
	}
}

func parse(m redis.XMessage) (Entry, error) {
	e := Entry{ID: m.ID}

	grams, _ := m.Values["grams"].(string)
	g, err := strconv.ParseFloat(grams, 64)
	if err != nil {
		return Entry{}, pkgerrors.Wrap(err, "bad grams")
	}
	e.Grams = g

	unit, _ := m.Values["unit"].(string)
	if e.Unit, err = scale.ParseUnit(unit); err != nil {
		return Entry{}, err
	}

	at, _ := m.Values["at"].(string)
	if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return Entry{}, pkgerrors.Wrap(err, "bad timestamp")
	}
	return e, nil
}
