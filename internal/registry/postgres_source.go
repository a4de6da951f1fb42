package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// ToolStore abstracts the tool_definitions queries for testability.
type ToolStore interface {
	ListTools(ctx context.Context) ([]toolRow, error)
}

type toolRow struct {
	Name                    string
	Description             sql.NullString
	WriteCapable            bool
	RequiresRunScope        bool
	RequiresWriteApproval   bool
	ExecuteApprovalRequired bool
	AllowedPaths            string // JSONB array
	PathFields              string // JSONB array
	MaxInputSize            int64
	MaxOutputSize           int64
	Aliases                 string // JSONB array
	ArgsSchema              sql.NullString
}

// sqlToolStore is the real implementation using *sql.DB.
type sqlToolStore struct {
	db *sql.DB
}

func (s *sqlToolStore) ListTools(ctx context.Context) ([]toolRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, write_capable, requires_run_scope,
		       requires_write_approval, execute_approval_required,
		       allowed_paths, path_fields,
		       max_input_size, max_output_size, aliases, args_schema
		FROM tool_definitions
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []toolRow
	for rows.Next() {
		var r toolRow
		if err := rows.Scan(
			&r.Name, &r.Description, &r.WriteCapable, &r.RequiresRunScope,
			&r.RequiresWriteApproval, &r.ExecuteApprovalRequired,
			&r.AllowedPaths, &r.PathFields,
			&r.MaxInputSize, &r.MaxOutputSize, &r.Aliases, &r.ArgsSchema,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadFromPostgres reads the full tool set from the tool_definitions table
// and registers it into reg. The table is read once at startup; the built
// registry never re-reads it.
func LoadFromPostgres(ctx context.Context, db *sql.DB, reg *Registry, logger *zap.Logger) error {
	return loadFromStore(ctx, &sqlToolStore{db: db}, reg, logger)
}

func loadFromStore(ctx context.Context, store ToolStore, reg *Registry, logger *zap.Logger) error {
	rows, err := store.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("LoadFromPostgres: %w", err)
	}

	for i := range rows {
		def, err := parseToolRow(&rows[i])
		if err != nil {
			return fmt.Errorf("LoadFromPostgres: %w", err)
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("LoadFromPostgres: %w", err)
		}
		logger.Info("tool registered from postgres",
			zap.String("tool", def.Name),
			zap.Bool("write_capable", def.WriteCapable),
		)
	}
	return nil
}

func parseToolRow(row *toolRow) (*ToolDefinition, error) {
	def := &ToolDefinition{
		Name:                    row.Name,
		WriteCapable:            row.WriteCapable,
		RequiresRunScope:        row.RequiresRunScope,
		RequiresWriteApproval:   row.RequiresWriteApproval,
		ExecuteApprovalRequired: row.ExecuteApprovalRequired,
		MaxInputSize:            int(row.MaxInputSize),
		MaxOutputSize:           int(row.MaxOutputSize),
	}
	if row.Description.Valid {
		def.Description = row.Description.String
	}

	if err := parseJSONColumn(row.AllowedPaths, &def.AllowedPaths); err != nil {
		return nil, fmt.Errorf("tool %q: allowed_paths: %w", row.Name, err)
	}
	if err := parseJSONColumn(row.PathFields, &def.PathFields); err != nil {
		return nil, fmt.Errorf("tool %q: path_fields: %w", row.Name, err)
	}
	if err := parseJSONColumn(row.Aliases, &def.Aliases); err != nil {
		return nil, fmt.Errorf("tool %q: aliases: %w", row.Name, err)
	}

	if !row.ArgsSchema.Valid || row.ArgsSchema.String == "" {
		return nil, fmt.Errorf("tool %q has no args_schema", row.Name)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(row.ArgsSchema.String), &doc); err != nil {
		return nil, fmt.Errorf("tool %q: args_schema: %w", row.Name, err)
	}
	node, err := compileArgsSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", row.Name, err)
	}
	def.ArgsSchema = node

	return def, nil
}

func parseJSONColumn(raw string, dst *[]string) error {
	if raw == "" || raw == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
