// pkg/source/source.go
package source

import (
	"context"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// Source defines the interface for raw-record sources
type Source interface {
	// Load reads every raw record the source provides
	Load(ctx context.Context) ([]model.Record, error)

	// Close releases the source's resources
	Close() error
}
