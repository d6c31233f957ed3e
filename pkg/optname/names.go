package optname

const (
	AdaptiveThreshold = "adaptive-threshold"
	ChunkSize         = "chunk-size"
	Clipboard         = "clipboard"
	Concurrency       = "concurrency"
	ConfigFile        = "config"
	ConnTimeout       = "connect-timeout"
	Extensions        = "extensions"
	Extract           = "extract"
	ForceHTTP2        = "force-http2"
	InitialBackoff    = "initial-backoff"
	LoggingLevel      = "log-level"
	MaxBackoff        = "max-backoff"
	MaxConnPerHost    = "max-conn-per-host"
	MinBitrate        = "min-bitrate"
	MultiThreshold    = "multi-threshold"
	Output            = "output"
	Parts             = "parts"
	PausePoll         = "pause-poll"
	ProbeTimeout      = "probe-timeout"
	Progress          = "progress"
	ProgressRate      = "progress-rate"
	ReadTimeout       = "read-timeout"
	RefreshCache      = "refresh-cache"
	Render            = "render"
	RequestTimeout    = "request-timeout"
	Resolve           = "resolve"
	Resume            = "resume"
	Retries           = "retries"
	StateDB           = "state-db"
	Verbose           = "verbose"
)
