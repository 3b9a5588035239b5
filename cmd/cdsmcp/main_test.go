package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testModel = `{"definitions": {
  "CatalogService": {
    "kind": "service",
    "@mcp.prompts": [{"name": "summarize", "template": "Summarize {{title}}", "inputs": [{"key": "title"}]}]
  },
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.resource": ["filter", "top"],
    "@mcp.wrap": {"tools": true, "modes": ["query"]},
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "title": {"type": "cds.String"}
    }
  }
}}`

const brokenModel = `{"definitions": {
  "CatalogService": {"kind": "service"},
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.resource": true,
    "elements": {"ID": {"type": "cds.Integer", "key": true}}
  },
  "CatalogService.Authors": {
    "kind": "entity",
    "@mcp.resource": 42,
    "elements": {"ID": {"type": "cds.Integer", "key": true}}
  }
}}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestCatalogCommand_JSON(t *testing.T) {
	model := writeFile(t, "model.json", testModel)

	out, err := run(t, "catalog", "--model", model, "--output", "json")
	require.NoError(t, err)

	var view catalogView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Tools, 1)
	assert.Equal(t, "CatalogService_Books_query", view.Tools[0].Name)
	require.Len(t, view.Resources, 1)
	assert.Equal(t, "odata://CatalogService/Books{?filter,top}", view.Resources[0].URI)
	require.Len(t, view.Prompts, 1)
	assert.Equal(t, []string{"title"}, view.Prompts[0].Inputs)
}

func TestCatalogCommand_YAMLAndTOML(t *testing.T) {
	model := writeFile(t, "model.json", testModel)

	out, err := run(t, "catalog", "--model", model, "-o", "yaml")
	require.NoError(t, err)
	var fromYAML catalogView
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	assert.Len(t, fromYAML.Tools, 1)

	out, err = run(t, "catalog", "--model", model, "-o", "toml")
	require.NoError(t, err)
	var fromTOML catalogView
	require.NoError(t, toml.Unmarshal([]byte(out), &fromTOML))
	assert.Len(t, fromTOML.Resources, 1)
}

func TestCatalogCommand_Table(t *testing.T) {
	model := writeFile(t, "model.json", testModel)

	out, err := run(t, "catalog", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "CatalogService_Books_query")
	assert.Contains(t, out, "odata://CatalogService/Books{?filter,top}")
	assert.Contains(t, out, "summarize")
}

func TestCatalogCommand_UnknownFormat(t *testing.T) {
	model := writeFile(t, "model.json", testModel)

	_, err := run(t, "catalog", "--model", model, "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestValidateCommand(t *testing.T) {
	model := writeFile(t, "model.json", testModel)

	out, err := run(t, "validate", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 tools, 1 resources, 1 prompts")
}

func TestValidateCommand_StrictFailsOnSkippedElements(t *testing.T) {
	model := writeFile(t, "model.json", brokenModel)

	out, err := run(t, "validate", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped CatalogService.Authors")

	_, err = run(t, "validate", "--model", model, "--strict")
	var exitErr exitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.code)
}

func TestValidateCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte(testModel), 0o644))
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("name: bookshop\nmodel: ./model.json\n"), 0o644))

	out, err := run(t, "validate", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 tools")
}

func TestValidateCommand_MissingModel(t *testing.T) {
	_, err := run(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model path is required")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cdsmcp dev")
}

func TestRootCommand_RejectsLogLevel(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"version", "--log-level", "chatty"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}

func TestParseOutputFormat(t *testing.T) {
	for input, want := range map[string]outputFormat{
		"table": outputTable,
		"JSON":  outputJSON,
		"yml":   outputYAML,
		"toml":  outputTOML,
	} {
		got, err := parseOutputFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}
