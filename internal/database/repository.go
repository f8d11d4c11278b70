// Package database provides PostgreSQL persistence for ground-truth labels.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/models"
)

// Repository defines the interface for ground-truth storage.
type Repository interface {
	// Save stores a ground-truth payload and returns the stored record.
	Save(ctx context.Context, payload json.RawMessage) (*models.GroundTruth, error)

	// GetByID retrieves a ground-truth record by its ID.
	GetByID(ctx context.Context, id string) (*models.GroundTruth, error)

	// Close closes the database connection.
	Close()
}

// New returns a PostgreSQL repository when DATABASE_URL is set, and a no-op
// repository that discards payloads otherwise.
func New(cfg *config.Config, logger *zap.Logger) (Repository, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("Ground-truth persistence disabled")
		return Noop{}, nil
	}
	return NewPostgresRepository(cfg, logger)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(cfg *config.Config, logger *zap.Logger) (*PostgresRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{
		pool:   pool,
		logger: logger,
	}

	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Connected to PostgreSQL database")
	return repo, nil
}

// migrate creates the necessary database tables if they don't exist.
func (r *PostgresRepository) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ground_truth (
			id UUID PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_ground_truth_created_at ON ground_truth(created_at);
	`

	_, err := r.pool.Exec(ctx, query)
	return err
}

// Save stores a ground-truth payload.
func (r *PostgresRepository) Save(ctx context.Context, payload json.RawMessage) (*models.GroundTruth, error) {
	record := &models.GroundTruth{
		ID:      uuid.New().String(),
		Payload: payload,
	}

	query := `
		INSERT INTO ground_truth (id, payload, created_at)
		VALUES ($1, $2, $3)
	`

	// Passed as string so pgx sends JSON text rather than bytea.
	_, err := r.pool.Exec(ctx, query, record.ID, string(payload), time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to save ground truth", zap.Error(err))
		return nil, fmt.Errorf("failed to save ground truth: %w", err)
	}

	r.logger.Info("Saved ground truth", zap.String("id", record.ID))
	return record, nil
}

// GetByID retrieves a ground-truth record by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.GroundTruth, error) {
	query := `SELECT id, payload FROM ground_truth WHERE id = $1`

	var (
		record  models.GroundTruth
		payload []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&record.ID, &payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get ground truth", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get ground truth: %w", err)
	}

	record.Payload = payload
	return &record, nil
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
	r.logger.Info("Closed database connection")
}

// Noop accepts ground truth without storing it.
type Noop struct{}

// Save returns a record with a fresh ID and stores nothing.
func (Noop) Save(_ context.Context, payload json.RawMessage) (*models.GroundTruth, error) {
	return &models.GroundTruth{ID: uuid.New().String(), Payload: payload}, nil
}

// GetByID always reports not found.
func (Noop) GetByID(context.Context, string) (*models.GroundTruth, error) {
	return nil, nil
}

func (Noop) Close() {}
