package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	ConfigSchemaName   = "config.schema.json"
	MetadataSchemaName = "metadata.schema.json"
)

// ValidateAgainstSchema compiles schema under name and validates the JSON
// document data against it. ref optionally selects a sub-schema
// (e.g. "#/definitions/x").
func ValidateAgainstSchema(name string, schema []byte, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", name, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}

// ValidateConfigYAML validates a YAML configuration document.
func ValidateConfigYAML(data []byte) error {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}
	// An empty document is a valid (all defaults) configuration.
	if len(bytes.TrimSpace(jsonData)) == 0 || string(bytes.TrimSpace(jsonData)) == "null" {
		return nil
	}
	return validateEmbedded(ConfigSchemaName, jsonData)
}

// ValidateMetadataJSON validates a bundle metadata.json document.
func ValidateMetadataJSON(data []byte) error {
	return validateEmbedded(MetadataSchemaName, data)
}

func validateEmbedded(name string, data []byte) error {
	schema, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return fmt.Errorf("reading embedded schema %s: %w", name, err)
	}
	return ValidateAgainstSchema(name, schema, data, "")
}
