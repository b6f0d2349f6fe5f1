// pkg/source/postgres.go
package source

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// PostgresSource reads raw records from a PostgreSQL query
type PostgresSource struct {
	db     *sqlx.DB
	query  string
	cfg    *config.PostgresConfig
	logger *zap.Logger
}

// NewPostgresSource opens a PostgreSQL connection for a source query
func NewPostgresSource(ctx context.Context, cfg *config.PostgresConfig, query string, logger *zap.Logger) (*PostgresSource, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresSource{
		db:     db,
		query:  query,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Load executes the source query and maps each row to a record
func (s *PostgresSource) Load(ctx context.Context) ([]model.Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryxContext(queryCtx, s.query)
	if err != nil {
		return nil, fmt.Errorf("source query failed: %w", err)
	}
	defer rows.Close()

	records := make([]model.Record, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		// Byte slices are almost always text columns
		for key, value := range row {
			if b, ok := value.([]byte); ok {
				row[key] = string(b)
			}
		}
		records = append(records, model.Record(row))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	s.logger.Debug("Loaded PostgreSQL source",
		zap.Int("records", len(records)))

	return records, nil
}

// Close closes the connection pool
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
