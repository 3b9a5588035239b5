package app

import (
	"strings"

	"golang.org/x/mod/semver"

	"cdsmcp/internal/domain"
)

// Version is the semantic version of cdsmcp, set at build time via -ldflags.
var Version = "dev"

// Build is the git commit hash or build identifier, set at build time via -ldflags.
var Build = "unknown"

// ServerVersion is the version announced during initialize. A configured
// semantic version is canonicalized ("1.2" becomes "1.2.0"); anything else
// configured is passed through. Without one, the binary version is used.
func ServerVersion(configured string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if normalized, ok := normalizeSemver(configured); ok {
			return normalized
		}
		return configured
	}
	if normalized, ok := normalizeSemver(Version); ok {
		return normalized
	}
	return domain.DefaultServerVersion
}

func normalizeSemver(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" || value == "dev" {
		return "", false
	}
	if !strings.HasPrefix(value, "v") {
		value = "v" + value
	}
	normalized := semver.Canonical(value)
	if normalized == "" {
		return "", false
	}
	return strings.TrimPrefix(normalized, "v"), true
}
