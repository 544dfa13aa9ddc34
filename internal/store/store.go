// Package store persists missions. SQLite is the default single-node backend;
// DynamoDB serves deployments that share one table across instances.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiomirchi/radio-mirchi/internal/config"
	"github.com/radiomirchi/radio-mirchi/internal/metrics"
	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

// DefaultListLimit applies when List is called with a non-positive limit
const DefaultListLimit = 50

var (
	// ErrNotFound is mission.ErrNotFound so callers can test either
	ErrNotFound = mission.ErrNotFound
	ErrExists   = errors.New("mission already exists")
)

// Store is mission persistence
type Store interface {
	Create(ctx context.Context, m *mission.Mission) error
	Get(ctx context.Context, id string) (*mission.Mission, error)
	Update(ctx context.Context, m *mission.Mission) error
	// List returns missions newest first. An empty userID lists every user.
	List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error)
	Close() error
}

// Open creates the backend selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, m *metrics.Metrics) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		s, err = OpenSQLite(ctx, cfg.Path)
	case "dynamodb":
		s, err = OpenDynamoDB(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s, m), nil
}

// Instrument wraps s so every call is recorded in m
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

type instrumented struct {
	next    Store
	metrics *metrics.Metrics
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	i.metrics.RecordStoreOperation(op, err, time.Since(start).Seconds())
}

func (i *instrumented) Create(ctx context.Context, m *mission.Mission) error {
	start := time.Now()
	err := i.next.Create(ctx, m)
	i.observe("create", start, err)
	return err
}

func (i *instrumented) Get(ctx context.Context, id string) (*mission.Mission, error) {
	start := time.Now()
	m, err := i.next.Get(ctx, id)
	i.observe("get", start, err)
	return m, err
}

func (i *instrumented) Update(ctx context.Context, m *mission.Mission) error {
	start := time.Now()
	err := i.next.Update(ctx, m)
	i.observe("update", start, err)
	return err
}

func (i *instrumented) List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	start := time.Now()
	ms, err := i.next.List(ctx, userID, limit)
	i.observe("list", start, err)
	return ms, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func validateMission(m *mission.Mission) error {
	if m == nil {
		return errors.New("mission is nil")
	}
	if m.ID == "" {
		return errors.New("mission id is required")
	}
	return nil
}
