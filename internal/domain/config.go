package domain

// Config is the validated server configuration.
type Config struct {
	Name         string
	Version      string
	ModelPath    string
	Database     string
	DataDir      string
	WatchModel   bool
	Instructions string

	HTTP          HTTPConfig
	Auth          AuthConfig
	Wrap          WrapDefaults
	Query         QueryConfig
	Observability ObservabilityConfig
}

type HTTPConfig struct {
	Addr                  string
	Path                  string
	SessionTimeoutSeconds int
	MaxBodyBytes          int64
}

type AuthConfig struct {
	Mode      AuthMode
	JWTSecret string
}

type QueryConfig struct {
	DefaultTop int
	MaxTop     int
}

type ObservabilityConfig struct {
	Metrics       bool
	ListenAddress string
}
