package cameras

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertFrameSQL = `INSERT INTO frames (cctv_id, timestamp) VALUES ($1, $2) RETURNING frame_id`

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxConns       int32
	ConnectTimeout time.Duration
}

// PostgresRecorder stores frame records in the frames table.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder opens a pool for dsn. Migrations are applied elsewhere.
func NewPostgresRecorder(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresRecorder, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "cctvnode"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

// CreateFrameRecord implements FrameRecorder.
func (r *PostgresRecorder) CreateFrameRecord(ctx context.Context, cameraID int64, capturedAt time.Time) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, insertFrameSQL, cameraID, capturedAt.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert frame record for camera %d: %w", cameraID, err)
	}
	return id, nil
}

// Ping checks connectivity.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
