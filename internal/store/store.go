package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store persists turn audits and the published tool registry in Postgres.
type Store struct {
	DB     *sql.DB
	logger *log.Logger
}

var (
	metricsOnce    sync.Once
	turnsCounter   otelmetric.Int64Counter
	toolsCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initMetrics() {
	meter := otel.Meter("store")
	var err error
	turnsCounter, err = meter.Int64Counter("store_turns_saved_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	toolsCounter, err = meter.Int64Counter("store_tool_descriptors_upserted_total")
	if err != nil {
		metricsInitErr = err
	}
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	metricsOnce.Do(initMetrics)
	if metricsInitErr != nil {
		log.Printf("[STORE] metrics disabled: %v", metricsInitErr)
	}
	return &Store{DB: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }
