// pkg/source/factory.go
package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Factory creates sources from import-definition source references
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new source factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// Open creates the source a definition's source reference names
func (f *Factory) Open(ctx context.Context, ref model.SourceRef) (Source, error) {
	switch ref.Kind {
	case "", "file":
		return NewFileSource(ref.Path, f.logger), nil

	case "postgres":
		if f.cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres source requested but no PostgreSQL configuration is loaded")
		}
		return NewPostgresSource(ctx, f.cfg.Postgres, ref.Query, f.logger)

	case "snowflake":
		if f.cfg.Snowflake == nil {
			return nil, fmt.Errorf("snowflake source requested but no Snowflake configuration is loaded")
		}
		return NewSnowflakeSource(ctx, f.cfg.Snowflake, ref.Query, f.logger)

	default:
		return nil, fmt.Errorf("unknown source kind %q", ref.Kind)
	}
}
