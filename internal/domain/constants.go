package domain

const (
	// DefaultProtocolVersion is the protocol revision negotiated during the
	// initialize handshake. Sessions refuse servers that answer with a
	// different revision.
	DefaultProtocolVersion = "2025-06-18"

	DefaultHandshakeTimeoutSeconds = 30
	DefaultInvokeTimeoutSeconds    = 120

	DefaultReconnectBaseSeconds = 1
	DefaultReconnectMaxSeconds  = 60
	DefaultReconnectMaxRetries  = 5

	DefaultRefreshConcurrency = 4

	DefaultMaxAttempts = 3
	DefaultSubmitTool  = "n8n.create_workflow"

	DefaultTemplateLimit = 1

	DefaultObservabilityListenAddress = "127.0.0.1:9464"
)
