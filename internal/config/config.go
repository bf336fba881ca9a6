package config

import (
	"os"
	"strconv"
	"time"
)

// GatewayConfig holds the configuration surface for the gateway process:
// listen address, timing knobs, and the pluggable storage/registry
// backends.
type GatewayConfig struct {
	// Transport
	ListenAddr string

	// Dispatch timing
	ResponseTimeout     time.Duration
	EventBufferHoldTime time.Duration
	RegistryRetryDelay  time.Duration

	// Buffer limits
	MaxEventBytes int
	MaxQueueBytes int

	// AgentStateStore backend: "memory" or "bbolt"
	StateStoreBackend string
	StateStorePath    string

	// RegistryGrain backend: "memory" or "raft"
	RegistryBackend      string
	RegistryRaftDir      string
	RegistryRaftBindAddr string
	RegistryNodeID       string
	RegistryBootstrap    bool

	// Observability
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	HealthPort     string
	OTLPEndpoint   string
	MetricsPort    string
}

// WorkerConfig holds the configuration surface for a worker process.
type WorkerConfig struct {
	GatewayAddr string
	WorkerID    string

	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	HealthPort     string
	OTLPEndpoint   string
	MetricsPort    string

	// AgentManifestPath optionally points at a YAML manifest listing the
	// agent types this worker intends to host. cmd/worker reads and logs
	// it at startup; it does not replace programmatic RegisterAgentType
	// calls, which still need a Factory registered in code.
	AgentManifestPath string
}

// LoadGateway loads GatewayConfig from environment variables with
// defaults.
func LoadGateway() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr: getEnv("AGENTMESH_GATEWAY_ADDR", ":7700"),

		ResponseTimeout:     getEnvAsDuration("AGENTMESH_RESPONSE_TIMEOUT", 30*time.Second),
		EventBufferHoldTime: getEnvAsDuration("AGENTMESH_EVENT_BUFFER_HOLD", 5*time.Second),
		RegistryRetryDelay:  getEnvAsDuration("AGENTMESH_REGISTRY_RETRY_DELAY", 15*time.Second),

		MaxEventBytes: getEnvAsInt("AGENTMESH_MAX_EVENT_BYTES", 10*1024*1024),
		MaxQueueBytes: getEnvAsInt("AGENTMESH_MAX_QUEUE_BYTES", 10*1024*1024),

		StateStoreBackend: getEnv("AGENTMESH_STATESTORE_BACKEND", "memory"),
		StateStorePath:    getEnv("AGENTMESH_STATESTORE_PATH", "agentmesh-state.db"),

		RegistryBackend:      getEnv("AGENTMESH_REGISTRY_BACKEND", "memory"),
		RegistryRaftDir:      getEnv("AGENTMESH_REGISTRY_RAFT_DIR", "agentmesh-raft"),
		RegistryRaftBindAddr: getEnv("AGENTMESH_REGISTRY_RAFT_BIND_ADDR", "127.0.0.1:7701"),
		RegistryNodeID:       getEnv("AGENTMESH_REGISTRY_NODE_ID", "gateway-0"),
		RegistryBootstrap:    getEnvAsBool("AGENTMESH_REGISTRY_BOOTSTRAP", true),

		ServiceName:    getEnv("SERVICE_NAME", "agentmesh-gateway"),
		ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		HealthPort:     getEnv("GATEWAY_HEALTH_PORT", "8080"),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "127.0.0.1:4317"),
		MetricsPort:    getEnv("GATEWAY_METRICS_PORT", "9090"),
	}
}

// LoadWorker loads WorkerConfig from environment variables with defaults.
func LoadWorker() *WorkerConfig {
	return &WorkerConfig{
		GatewayAddr: getEnv("AGENTMESH_GATEWAY_ADDR", "localhost:7700"),
		WorkerID:    getEnv("AGENTMESH_WORKER_ID", ""),

		ServiceName:    getEnv("SERVICE_NAME", "agentmesh-worker"),
		ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		HealthPort:     getEnv("WORKER_HEALTH_PORT", "8081"),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "127.0.0.1:4317"),
		MetricsPort:    getEnv("WORKER_METRICS_PORT", "9091"),

		AgentManifestPath: getEnv("AGENTMESH_AGENT_MANIFEST", ""),
	}
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default
// fallback.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default
// fallback.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable parsed as a
// time.Duration (e.g. "5s", "30s") with a default fallback.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
