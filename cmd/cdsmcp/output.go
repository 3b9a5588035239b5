package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"cdsmcp/internal/domain"
)

type outputFormat string

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
	outputTOML  = "toml"
)

func parseOutputFormat(value string) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case outputTable:
		return outputTable, nil
	case outputJSON:
		return outputJSON, nil
	case outputYAML, "yml":
		return outputYAML, nil
	case outputTOML:
		return outputTOML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json, yaml or toml)", value)
	}
}

type catalogView struct {
	Tools       []toolView       `json:"tools" yaml:"tools" toml:"tools"`
	Resources   []resourceView   `json:"resources" yaml:"resources" toml:"resources"`
	Prompts     []promptView     `json:"prompts" yaml:"prompts" toml:"prompts"`
	Diagnostics []diagnosticView `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty" toml:"diagnostics,omitempty"`
}

type toolView struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	Source      string `json:"source" yaml:"source" toml:"source"`
}

type resourceView struct {
	Name     string   `json:"name" yaml:"name" toml:"name"`
	URI      string   `json:"uri" yaml:"uri" toml:"uri"`
	Template bool     `json:"template" yaml:"template" toml:"template"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	Source   string   `json:"source" yaml:"source" toml:"source"`
}

type promptView struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Inputs      []string `json:"inputs,omitempty" yaml:"inputs,omitempty" toml:"inputs,omitempty"`
	Source      string   `json:"source" yaml:"source" toml:"source"`
}

type diagnosticView struct {
	Element string `json:"element" yaml:"element" toml:"element"`
	Message string `json:"message" yaml:"message" toml:"message"`
}

func newCatalogView(catalog *domain.Catalog) catalogView {
	view := catalogView{
		Tools:     []toolView{},
		Resources: []resourceView{},
		Prompts:   []promptView{},
	}
	for _, tool := range catalog.Tools {
		view.Tools = append(view.Tools, toolView{
			Name:        tool.Name,
			Title:       tool.Title,
			Description: tool.Description,
			Mode:        string(tool.Mode),
			Source:      tool.Source,
		})
	}
	for _, res := range catalog.Resources {
		view.Resources = append(view.Resources, resourceView{
			Name:     res.Name,
			URI:      res.URI,
			Template: res.Template,
			Options:  res.Options,
			Source:   res.Source,
		})
	}
	for _, prompt := range catalog.Prompts {
		inputs := make([]string, 0, len(prompt.Inputs))
		for _, input := range prompt.Inputs {
			key := input.Key
			if !input.Required {
				key += "?"
			}
			inputs = append(inputs, key)
		}
		view.Prompts = append(view.Prompts, promptView{
			Name:        prompt.Name,
			Description: prompt.Description,
			Inputs:      inputs,
			Source:      prompt.Source,
		})
	}
	for _, diag := range catalog.Diagnostics {
		view.Diagnostics = append(view.Diagnostics, diagnosticView{Element: diag.Element, Message: diag.Message})
	}
	return view
}

func printCatalog(w io.Writer, catalog *domain.Catalog, format outputFormat) error {
	view := newCatalogView(catalog)
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(view); err != nil {
			return err
		}
		return encoder.Close()
	case outputTOML:
		return toml.NewEncoder(w).Encode(view)
	default:
		return printCatalogTable(w, view)
	}
}

func printCatalogTable(w io.Writer, view catalogView) error {
	table := tablewriter.NewWriter(w)
	table.Header("KIND", "NAME", "DETAIL", "SOURCE")
	for _, tool := range view.Tools {
		detail := tool.Mode
		if detail == "" {
			detail = "operation"
		}
		if err := table.Append([]string{"tool", tool.Name, detail, tool.Source}); err != nil {
			return err
		}
	}
	for _, res := range view.Resources {
		if err := table.Append([]string{"resource", res.Name, res.URI, res.Source}); err != nil {
			return err
		}
	}
	for _, prompt := range view.Prompts {
		if err := table.Append([]string{"prompt", prompt.Name, strings.Join(prompt.Inputs, ", "), prompt.Source}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	for _, diag := range view.Diagnostics {
		if _, err := fmt.Fprintf(w, "skipped %s: %s\n", diag.Element, diag.Message); err != nil {
			return err
		}
	}
	return nil
}
