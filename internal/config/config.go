package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP Configuration
	HTTPAddr string

	// NATS Configuration (sniffer tuple bus + health heartbeat)
	NatsURL          string
	TupleSubject     string
	HeartbeatSubject string

	// Target site
	BaseURL         string
	NewChatPath     string
	GeneratePattern string
	InterceptHosts  []string

	// Browser driver. The name must match a browser.Register call linked
	// into the binary; only "fake" ships in-tree.
	BrowserDriver string
	BrowserAddr   string
	OSHint        string

	// Sniffer proxy (cmd/sniffer)
	ProxyAddr     string
	UpstreamSocks string
	CACertPath    string
	CAKeyPath     string

	// Response acquisition
	ResponseSource string // "sniffer" or "dom"
	EmptyPollLimit int
	EmptyPollWait  time.Duration

	// Completion detection
	CompletionPollInterval  time.Duration
	CompletionCheckTimeout  time.Duration
	CompletionTimeout       time.Duration
	EditButtonWait          time.Duration
	CompletionHeuristicHits int

	// Page interaction
	PageOpTimeout    time.Duration
	SubmitTimeout    time.Duration
	SubmitRetries    int
	StreamDrainGrace time.Duration
	StreamCoolDown   time.Duration

	// Fake streaming of DOM-scraped text
	StreamChunkSize  int
	StreamChunkDelay time.Duration

	// Generation defaults (contribute to the ParamCache defaults hash)
	DefaultTemperature     float64
	DefaultMaxOutputTokens int
	DefaultTopP            float64
	DefaultStop            []string

	// Data Directory Configuration
	DataDir            string
	SnapshotDir        string
	ExcludedModelsPath string
	ModelsPath         string

	// Database Configuration
	DBPath string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":2048"),
		NatsURL:          getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		TupleSubject:     getEnv("TUPLE_SUBJECT", "studio.sniffer.tuples"),
		HeartbeatSubject: getEnv("HEARTBEAT_SUBJECT", "studio.bridge.health"),

		BaseURL:         getEnv("STUDIO_BASE_URL", "https://aistudio.google.com"),
		NewChatPath:     getEnv("STUDIO_NEW_CHAT_PATH", "/prompts/new_chat"),
		GeneratePattern: getEnv("STUDIO_GENERATE_PATTERN", "GenerateContent"),
		InterceptHosts:  getEnvList("INTERCEPT_HOSTS", "alkalimakersuite-pa.clients6.google.com"),

		BrowserDriver: getEnv("BROWSER_DRIVER", "cdp"),
		BrowserAddr:   getEnv("BROWSER_ADDR", "ws://127.0.0.1:9222"),
		OSHint:        getEnv("HOST_OS_HINT", ""),

		ProxyAddr:     getEnv("PROXY_ADDR", "127.0.0.1:3120"),
		UpstreamSocks: getEnv("UPSTREAM_SOCKS", ""),
		CACertPath:    getEnv("CA_CERT_PATH", "data/certs/ca.pem"),
		CAKeyPath:     getEnv("CA_KEY_PATH", "data/certs/ca.key"),

		ResponseSource: getEnv("RESPONSE_SOURCE", "sniffer"),
		EmptyPollLimit: getEnvInt("SNIFFER_EMPTY_POLL_LIMIT", 300),
		EmptyPollWait:  getEnvDuration("SNIFFER_EMPTY_POLL_WAIT", "200ms"),

		CompletionPollInterval:  getEnvDuration("COMPLETION_POLL_INTERVAL", "500ms"),
		CompletionCheckTimeout:  getEnvDuration("COMPLETION_CHECK_TIMEOUT", "2s"),
		CompletionTimeout:       getEnvDuration("COMPLETION_TIMEOUT", "300s"),
		EditButtonWait:          getEnvDuration("EDIT_BUTTON_WAIT", "20s"),
		CompletionHeuristicHits: getEnvInt("COMPLETION_HEURISTIC_HITS", 3),

		PageOpTimeout:    getEnvDuration("PAGE_OP_TIMEOUT", "10s"),
		SubmitTimeout:    getEnvDuration("SUBMIT_TIMEOUT", "30s"),
		SubmitRetries:    getEnvInt("SUBMIT_RETRIES", 3),
		StreamDrainGrace: getEnvDuration("STREAM_DRAIN_GRACE", "30s"),
		StreamCoolDown:   getEnvDuration("STREAM_COOL_DOWN", "1s"),

		StreamChunkSize:  getEnvInt("STREAM_CHUNK_SIZE", 64),
		StreamChunkDelay: getEnvDuration("STREAM_CHUNK_DELAY", "20ms"),

		DefaultTemperature:     getEnvFloat("DEFAULT_TEMPERATURE", 1.0),
		DefaultMaxOutputTokens: getEnvInt("DEFAULT_MAX_OUTPUT_TOKENS", 65536),
		DefaultTopP:            getEnvFloat("DEFAULT_TOP_P", 0.95),
		DefaultStop:            getEnvList("DEFAULT_STOP", ""),

		DataDir:            getEnv("DATA_DIR", "data"),
		SnapshotDir:        getEnv("SNAPSHOT_DIR", "data/snapshots"),
		ExcludedModelsPath: getEnv("EXCLUDED_MODELS_PATH", "data/excluded_models.txt"),
		ModelsPath:         getEnv("MODELS_PATH", "data/models.json"),
		DBPath:             getEnv("DB_PATH", "data/bridge.sqlite"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}

func getEnvList(key, defaultVal string) []string {
	val := getEnv(key, defaultVal)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
