package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kathoros-ai/proxenos/internal/schema"
)

// manifestMetaSchema is the JSON Schema every manifest tool entry must pass
// before its argument schema is compiled. A malformed manifest fails at
// startup, not at request time.
const manifestMetaSchema = `{
	"type": "object",
	"required": ["name", "args_schema"],
	"additionalProperties": false,
	"properties": {
		"name":                      {"type": "string", "pattern": "^[A-Za-z0-9_-]+$"},
		"description":               {"type": "string"},
		"write_capable":             {"type": "boolean"},
		"requires_run_scope":        {"type": "boolean"},
		"requires_write_approval":   {"type": "boolean"},
		"execute_approval_required": {"type": "boolean"},
		"allowed_paths":             {"type": "array", "items": {"type": "string", "minLength": 1}},
		"path_fields":               {"type": "array", "items": {"type": "string", "minLength": 1}},
		"max_input_size":            {"type": "integer", "minimum": 1},
		"max_output_size":           {"type": "integer", "minimum": 1},
		"aliases":                   {"type": "array", "items": {"type": "string", "minLength": 1}},
		"args_schema":               {"type": "object"}
	}
}`

type manifestFile struct {
	Tools []manifestTool `yaml:"tools"`
}

type manifestTool struct {
	Name                    string         `yaml:"name" json:"name"`
	Description             string         `yaml:"description" json:"description,omitempty"`
	WriteCapable            bool           `yaml:"write_capable" json:"write_capable,omitempty"`
	RequiresRunScope        bool           `yaml:"requires_run_scope" json:"requires_run_scope,omitempty"`
	RequiresWriteApproval   *bool          `yaml:"requires_write_approval" json:"requires_write_approval,omitempty"`
	ExecuteApprovalRequired bool           `yaml:"execute_approval_required" json:"execute_approval_required,omitempty"`
	AllowedPaths            []string       `yaml:"allowed_paths" json:"allowed_paths,omitempty"`
	PathFields              []string       `yaml:"path_fields" json:"path_fields,omitempty"`
	MaxInputSize            int            `yaml:"max_input_size" json:"max_input_size,omitempty"`
	MaxOutputSize           int            `yaml:"max_output_size" json:"max_output_size,omitempty"`
	Aliases                 []string       `yaml:"aliases" json:"aliases,omitempty"`
	ArgsSchema              map[string]any `yaml:"args_schema" json:"args_schema,omitempty"`
}

// LoadManifest reads a YAML tool manifest and registers every tool in it.
func LoadManifest(path string, reg *Registry, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(mf.Tools) == 0 {
		return fmt.Errorf("manifest %s declares no tools", path)
	}

	meta, err := compileMetaSchema()
	if err != nil {
		return err
	}

	for i := range mf.Tools {
		def, err := buildDefinition(&mf.Tools[i], meta)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", path, err)
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("manifest %s: %w", path, err)
		}
		logger.Info("tool registered from manifest",
			zap.String("tool", def.Name),
			zap.Bool("write_capable", def.WriteCapable),
			zap.Strings("aliases", def.Aliases),
		)
	}
	return nil
}

func compileMetaSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestMetaSchema))
	if err != nil {
		return nil, fmt.Errorf("manifest meta-schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-manifest.json", doc); err != nil {
		return nil, fmt.Errorf("manifest meta-schema: %w", err)
	}
	sch, err := c.Compile("tool-manifest.json")
	if err != nil {
		return nil, fmt.Errorf("manifest meta-schema: %w", err)
	}
	return sch, nil
}

func buildDefinition(t *manifestTool, meta *jsonschema.Schema) (*ToolDefinition, error) {
	// Round-trip through JSON so the meta-validator sees JSON-typed values
	// rather than YAML-decoded Go values.
	encoded, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Name, err)
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Name, err)
	}
	if err := meta.Validate(doc); err != nil {
		return nil, fmt.Errorf("tool %q fails manifest schema: %w", t.Name, err)
	}

	argsSchema, err := compileArgsSchema(t.ArgsSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Name, err)
	}

	requiresWriteApproval := true
	if t.RequiresWriteApproval != nil {
		requiresWriteApproval = *t.RequiresWriteApproval
	}

	return &ToolDefinition{
		Name:                    t.Name,
		Description:             t.Description,
		WriteCapable:            t.WriteCapable,
		RequiresRunScope:        t.RequiresRunScope,
		RequiresWriteApproval:   requiresWriteApproval,
		ExecuteApprovalRequired: t.ExecuteApprovalRequired,
		AllowedPaths:            t.AllowedPaths,
		PathFields:              t.PathFields,
		MaxInputSize:            t.MaxInputSize,
		MaxOutputSize:           t.MaxOutputSize,
		Aliases:                 t.Aliases,
		ArgsSchema:              argsSchema,
	}, nil
}

// compileArgsSchema normalizes a YAML-decoded schema document to JSON typing
// and compiles it into the validator's node tree.
func compileArgsSchema(raw map[string]any) (*schema.Node, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, err
	}
	return schema.Compile(doc)
}
