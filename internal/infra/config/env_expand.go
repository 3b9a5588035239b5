package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandEnv substitutes ${VAR} and ${VAR:-default} in every string scalar
// of the YAML document and reports variables that were not set.
func expandEnv(raw []byte) (string, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", nil, fmt.Errorf("parse config: %w", err)
	}

	missing := make(map[string]struct{})
	walkScalars(&root, func(node *yaml.Node) {
		expandScalar(node, missing)
	})

	if root.Kind == 0 {
		return "", missingList(missing), nil
	}
	expanded, err := yaml.Marshal(&root)
	if err != nil {
		return "", nil, fmt.Errorf("encode expanded config: %w", err)
	}
	return string(expanded), missingList(missing), nil
}

func walkScalars(node *yaml.Node, visit func(*yaml.Node)) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			walkScalars(child, visit)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			walkScalars(node.Content[i+1], visit)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			walkScalars(node.Alias, visit)
		}
	case yaml.ScalarNode:
		visit(node)
	}
}

func expandScalar(node *yaml.Node, missing map[string]struct{}) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}

	expanded := os.Expand(node.Value, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if val, ok := os.LookupEnv(name); ok && (val != "" || !hasFallback) {
			return val
		}
		if hasFallback {
			return fallback
		}
		missing[name] = struct{}{}
		return ""
	})
	if expanded == node.Value {
		return
	}

	// Quoted scalars stay strings; plain ones take the type of the value.
	if node.Style != 0 {
		node.Tag = "!!str"
		node.Value = expanded
		return
	}
	node.Tag, node.Value = retagScalar(expanded)
}

func missingList(missing map[string]struct{}) []string {
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func retagScalar(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}

	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
