// pkg/source/file.go
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// FileSource reads raw records from a JSON file holding either an array
// of objects or an object with a single top-level array.
type FileSource struct {
	path   string
	logger *zap.Logger
}

// NewFileSource creates a source over a JSON data file
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Load reads and decodes the data file
func (s *FileSource) Load(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", s.path, err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		// Some exports wrap the rows in an object with one array field
		var wrapper map[string][]map[string]interface{}
		if wrapErr := json.Unmarshal(data, &wrapper); wrapErr != nil || len(wrapper) != 1 {
			return nil, fmt.Errorf("failed to parse source file %s: %w", s.path, err)
		}
		for _, inner := range wrapper {
			rows = inner
		}
	}

	records := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.Record(row))
	}

	s.logger.Debug("Loaded source file",
		zap.String("path", s.path),
		zap.Int("records", len(records)))

	return records, nil
}

// Close is a no-op for file sources
func (s *FileSource) Close() error {
	return nil
}
