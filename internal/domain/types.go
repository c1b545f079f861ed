package domain

import "time"

// ServerSpec describes one configured automation backend.
type ServerSpec struct {
	ID              string            `json:"id"`
	Endpoint        string            `json:"endpoint"`
	Headers         map[string]string `json:"headers,omitempty"`
	ProtocolVersion string            `json:"protocolVersion"`
	Disabled        bool              `json:"disabled,omitempty"`
}

// SessionState is the lifecycle state of a server session.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionHandshaking  SessionState = "handshaking"
	SessionReady        SessionState = "ready"
	SessionInvoking     SessionState = "invoking"
	SessionFailed       SessionState = "failed"

	// SessionUnavailable is terminal: the reconnect budget is spent and the
	// server's tools are excluded from the catalog. The process keeps running.
	SessionUnavailable SessionState = "unavailable"
)

// SessionInfo is a read-only snapshot of a session for status queries.
type SessionInfo struct {
	ServerID     string
	Endpoint     string
	State        SessionState
	RetryCount   int
	ConnectedAt  time.Time
	LastError    string
	Capabilities ServerCapabilities
}

// ServerCapabilities records what a backend declared during the handshake.
type ServerCapabilities struct {
	Tools     *ToolsCapability
	Resources *ResourcesCapability
	Prompts   *PromptsCapability
	Logging   *LoggingCapability
}

type ToolsCapability struct {
	ListChanged bool
}

type ResourcesCapability struct {
	Subscribe   bool
	ListChanged bool
}

type PromptsCapability struct {
	ListChanged bool
}

type LoggingCapability struct{}

// RuntimeConfig carries the tunables shared across components.
type RuntimeConfig struct {
	HandshakeTimeoutSeconds int                 `json:"handshakeTimeoutSeconds"`
	InvokeTimeoutSeconds    int                 `json:"invokeTimeoutSeconds"`
	ReconnectBaseSeconds    int                 `json:"reconnectBaseSeconds"`
	ReconnectMaxSeconds     int                 `json:"reconnectMaxSeconds"`
	ReconnectMaxRetries     int                 `json:"reconnectMaxRetries"`
	RefreshConcurrency      int                 `json:"refreshConcurrency"`
	MaxAttempts             int                 `json:"maxAttempts"`
	SubmitTool              string              `json:"submitTool"`
	TemplatesDir            string              `json:"templatesDir"`
	StorePath               string              `json:"storePath"`
	Observability           ObservabilityConfig `json:"observability"`
	Synthesis               SynthesisConfig     `json:"synthesis"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
}

// SynthesisConfig configures the generative backend.
type SynthesisConfig struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	APIKey       string  `json:"apiKey"`
	APIKeyEnvVar string  `json:"apiKeyEnvVar"`
	BaseURL      string  `json:"baseURL"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
}

// Config is the validated top-level configuration.
type Config struct {
	Servers []ServerSpec
	Runtime RuntimeConfig
}
