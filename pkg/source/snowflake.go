// pkg/source/snowflake.go
package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// SnowflakeSource reads raw records from a Snowflake query
type SnowflakeSource struct {
	db     *sql.DB
	query  string
	cfg    *config.SnowflakeConfig
	logger *zap.Logger
}

// NewSnowflakeSource opens a Snowflake connection for a source query
func NewSnowflakeSource(ctx context.Context, cfg *config.SnowflakeConfig, query string, logger *zap.Logger) (*SnowflakeSource, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Snowflake connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Snowflake: %w", err)
	}

	return &SnowflakeSource{
		db:     db,
		query:  query,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Load executes the source query and maps each row to a record
func (s *SnowflakeSource) Load(ctx context.Context) ([]model.Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, s.query)
	if err != nil {
		return nil, fmt.Errorf("source query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read source columns: %w", err)
	}

	records := make([]model.Record, 0)
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}

		row := make(model.Record, len(columns))
		for i, col := range columns {
			value := values[i]
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[col] = value
		}
		records = append(records, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	s.logger.Debug("Loaded Snowflake source",
		zap.Int("records", len(records)))

	return records, nil
}

// Close closes the connection pool
func (s *SnowflakeSource) Close() error {
	return s.db.Close()
}
