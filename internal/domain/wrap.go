package domain

import "fmt"

// WrapMode is a CRUD operation exposed as a tool for an entity.
type WrapMode string

const (
	ModeQuery  WrapMode = "query"
	ModeGet    WrapMode = "get"
	ModeCreate WrapMode = "create"
	ModeUpdate WrapMode = "update"
	ModeDelete WrapMode = "delete"
)

// AllModes lists every wrap mode in canonical order.
var AllModes = []WrapMode{ModeQuery, ModeGet, ModeCreate, ModeUpdate, ModeDelete}

// DefaultModes applies when neither the entity nor the global config names modes.
var DefaultModes = []WrapMode{ModeQuery, ModeGet}

// ParseWrapMode validates a mode name.
func ParseWrapMode(value string) (WrapMode, error) {
	for _, mode := range AllModes {
		if string(mode) == value {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown wrap mode %q", value)
}

// WrapDefaults is the global wrap configuration.
type WrapDefaults struct {
	// Entities wraps every annotated entity unless it opts out.
	Entities bool
	// Modes is nil when not configured.
	Modes []WrapMode
}

// EntityWrap is the entity-level wrap annotation after parsing.
type EntityWrap struct {
	// Present is set when the entity carries any wrap annotation.
	Present bool
	// Tools is nil when the entity does not say.
	Tools *bool
	// Modes is nil when absent. A present list replaces the global modes.
	Modes []WrapMode
	Hint  string
}

// WrapConfig is the resolved per-entity CRUD capability set.
type WrapConfig struct {
	Enabled bool
	Modes   []WrapMode
	Hint    string
}

// Has reports whether mode is enabled.
func (w WrapConfig) Has(mode WrapMode) bool {
	for _, m := range w.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// ResolveWrap merges the three layers: built-in default modes, global modes,
// entity modes. A layer that is present replaces the lower ones entirely.
func ResolveWrap(global WrapDefaults, entity EntityWrap) WrapConfig {
	enabled := global.Entities || entity.Present
	if entity.Tools != nil {
		enabled = *entity.Tools
	}

	var modes []WrapMode
	switch {
	case entity.Modes != nil:
		modes = entity.Modes
	case global.Modes != nil:
		modes = global.Modes
	default:
		modes = DefaultModes
	}

	return WrapConfig{
		Enabled: enabled,
		Modes:   append([]WrapMode(nil), modes...),
		Hint:    entity.Hint,
	}
}
