package domain

const (
	DefaultServerName           = "cdsmcp"
	DefaultServerVersion        = "0.1.0"
	DefaultHTTPAddr             = "127.0.0.1:4004"
	DefaultHTTPPath             = "/mcp"
	DefaultHealthPath           = "/health"
	DefaultMaxBodyBytes         = 1 << 20
	DefaultSessionTimeoutSecs   = 0
	DefaultQueryTop             = 100
	DefaultQueryMaxTop          = 1000
	DefaultObservabilityAddress = "127.0.0.1:9464"
	DefaultDatabase             = ":memory:"
	DefaultResourceScheme       = "odata"

	SessionIDHeader = "Mcp-Session-Id"
)

// AuthMode selects how the MCP endpoint is protected.
type AuthMode string

const (
	// AuthModeInherit verifies bearer tokens with the host's verifier.
	AuthModeInherit AuthMode = "inherit"
	// AuthModeNone disables authentication.
	AuthModeNone AuthMode = "none"
)
