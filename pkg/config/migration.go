// pkg/config/migration.go
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/model"
)

// MigrationConfig is the declarative description of one migration run:
// the target database and each collection's schema and import definitions.
type MigrationConfig struct {
	DatabaseID         string             `yaml:"databaseId"`
	IdentityCollection string             `yaml:"identityCollection,omitempty"`
	Buckets            []string           `yaml:"buckets,omitempty"`
	Collections        []CollectionConfig `yaml:"collections"`
}

// CollectionConfig configures one target collection. Identity marks the
// collection as identity-bearing: its records are deduplicated by email
// and phone before documents are created.
type CollectionConfig struct {
	Name     string                  `yaml:"name"`
	Identity bool                    `yaml:"identity,omitempty"`
	Schema   []model.AttributeSchema `yaml:"schema,omitempty"`
	Defs     []model.ImportDef       `yaml:"importDefs"`
}

// LoadMigrationConfig reads and validates a migration definition file
func LoadMigrationConfig(path string) (*MigrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration config: %w", err)
	}

	var cfg MigrationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse migration config: %w", err)
	}

	if cfg.IdentityCollection == "" {
		cfg.IdentityCollection = "users"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the migration definition for structural problems
func (c *MigrationConfig) Validate() error {
	if c.DatabaseID == "" {
		return errors.New("databaseId is required")
	}

	if len(c.Collections) == 0 {
		return errors.New("at least one collection is required")
	}

	seen := make(map[string]bool)
	for i, coll := range c.Collections {
		if coll.Name == "" {
			return fmt.Errorf("collection %d: name is required", i)
		}
		if seen[coll.Name] {
			return fmt.Errorf("collection %q: duplicate name", coll.Name)
		}
		seen[coll.Name] = true

		for j := range coll.Defs {
			def := &coll.Defs[j]
			if def.Collection == "" {
				def.Collection = coll.Name
			}
			if def.Kind == "" {
				def.Kind = model.DefCreate
			}
			if def.Kind != model.DefCreate && def.Kind != model.DefUpdate {
				return fmt.Errorf("collection %q: def %d: unknown kind %q", coll.Name, j, def.Kind)
			}
			if def.PrimaryKey == "" {
				return fmt.Errorf("collection %q: def %d: primaryKey is required", coll.Name, j)
			}
			if err := validateSourceRef(&def.Source); err != nil {
				return fmt.Errorf("collection %q: def %d: %w", coll.Name, j, err)
			}
			for k, attr := range def.Attributes {
				if attr.TargetKey == "" {
					return fmt.Errorf("collection %q: def %d: attribute %d: targetKey is required", coll.Name, j, k)
				}
				if attr.OldKey == "" && attr.Template == "" && attr.FileData == nil {
					return fmt.Errorf("collection %q: def %d: attribute %q: oldKey, template or fileData is required", coll.Name, j, attr.TargetKey)
				}
			}
			for k, ref := range def.References {
				if ref.SourceField == "" || ref.TargetCollection == "" || ref.TargetField == "" || ref.SetField == "" {
					return fmt.Errorf("collection %q: def %d: reference %d is incomplete", coll.Name, j, k)
				}
			}
		}
	}

	return nil
}

// CollectionNames returns the configured collection names in order
func (c *MigrationConfig) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for _, coll := range c.Collections {
		names = append(names, coll.Name)
	}
	return names
}

func validateSourceRef(ref *model.SourceRef) error {
	if ref.Kind == "" {
		ref.Kind = "file"
	}

	switch ref.Kind {
	case "file":
		if ref.Path == "" {
			return errors.New("file source requires a path")
		}
	case "postgres", "snowflake":
		if ref.Query == "" {
			return fmt.Errorf("%s source requires a query", ref.Kind)
		}
	default:
		return fmt.Errorf("unknown source kind %q", ref.Kind)
	}

	return nil
}
