// Package config handles platform configuration
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Capture modes for a session.
const (
	CaptureLocal  = "local"
	CaptureRemote = "remote"
)

// Collaborator backends selectable at startup.
const (
	BackendMock   = "mock"
	BackendGRPC   = "grpc"
	BackendGemini = "gemini"
)

// SessionConfig is the immutable snapshot a session runs with.
type SessionConfig struct {
	InsightInterval     Seconds `json:"insight_interval"`
	ScreenInterval      Seconds `json:"screen_interval"`
	ChunkDuration       Seconds `json:"transcript_chunk_interval"`
	EnableVision        bool    `json:"enable_vision"`
	EnableTranscription bool    `json:"enable_transcription"`
	EnableFinalSync     bool    `json:"enable_final_sync"`
	EnableFaceSentiment bool    `json:"enable_face_sentiment"`
	CaptureMode         string  `json:"capture_mode"`
}

// Seconds is a duration serialized as fractional seconds.
type Seconds float64

// Duration converts to time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

func (s Seconds) orDefault(def Seconds) Seconds {
	if f := float64(s); f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		s = def
	}
	if s < MinInterval {
		return MinInterval
	}
	return s
}

// Config holds process-wide settings.
type Config struct {
	HTTPAddr      string
	InferenceAddr string
	LogLevel      string

	Backend         string
	GeminiAPIKey    string
	GeminiModel     string
	UseGoogleSpeech bool
	SpeechLanguage  string
	TavilyAPIKey    string
	TavilyBaseURL   string
	Competitors     []string

	OdooURL      string
	OdooDB       string
	OdooUser     string
	OdooPassword string

	SQLiteDSN    string
	KafkaBrokers []string
	KafkaTopic   string

	ExcludedAudioDevices []string
	TranscriptionWorkers int
	MCPEnabled           bool

	Session SessionConfig
}

func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		InferenceAddr: getEnv("INFERENCE_ADDR", "localhost:50051"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		Backend:         getEnv("COLLAB_BACKEND", BackendMock),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		UseGoogleSpeech: getEnvBool("GOOGLE_SPEECH_ENABLED", false),
		SpeechLanguage:  getEnv("SPEECH_LANGUAGE", "en-US"),
		TavilyAPIKey:    getEnv("TAVILY_API_KEY", ""),
		TavilyBaseURL:   getEnv("TAVILY_BASE_URL", "https://api.tavily.com"),
		Competitors:     getEnvList("COMPETITORS", nil),

		OdooURL:      getEnv("ODOO_URL", ""),
		OdooDB:       getEnv("ODOO_DB", ""),
		OdooUser:     getEnv("ODOO_USER", ""),
		OdooPassword: getEnv("ODOO_PASSWORD", ""),

		SQLiteDSN:    getEnv("SQLITE_DSN", "file:live-assist.db?_pragma=busy_timeout(5000)"),
		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "live-assist.sessions"),

		ExcludedAudioDevices: getEnvList("EXCLUDED_AUDIO_DEVICES", []string{"iphone", "teams"}),
		TranscriptionWorkers: getEnvInt("TRANSCRIPTION_WORKERS", 2),
		MCPEnabled:           getEnvBool("MCP_ENABLED", true),

		Session: SessionConfig{
			InsightInterval:     Seconds(getEnvFloat("INSIGHT_INTERVAL", 30)),
			ScreenInterval:      Seconds(getEnvFloat("SCREEN_INTERVAL", 2)),
			ChunkDuration:       Seconds(getEnvFloat("TRANSCRIPT_CHUNK_INTERVAL", 10)),
			EnableVision:        getEnvBool("ENABLE_VISION", true),
			EnableTranscription: getEnvBool("ENABLE_TRANSCRIPTION", true),
			EnableFinalSync:     getEnvBool("ENABLE_FINAL_SYNC", true),
			EnableFaceSentiment: getEnvBool("ENABLE_FACE_SENTIMENT", true),
			CaptureMode:         getEnv("CAPTURE_MODE", CaptureLocal),
		},
	}
}

// DefaultSession returns the built-in session defaults, ignoring the environment.
func DefaultSession() SessionConfig {
	return SessionConfig{
		InsightInterval:     30,
		ScreenInterval:      2,
		ChunkDuration:       10,
		EnableVision:        true,
		EnableTranscription: true,
		EnableFinalSync:     true,
		EnableFaceSentiment: true,
		CaptureMode:         CaptureLocal,
	}
}

// MinInterval is the floor for every session interval. Positive values below
// it are raised to it.
const MinInterval Seconds = 0.01

// Normalize fills zero intervals from def, raises tiny ones to MinInterval and
// coerces an unknown capture mode to local.
func (c SessionConfig) Normalize(def SessionConfig) SessionConfig {
	c.InsightInterval = c.InsightInterval.orDefault(def.InsightInterval)
	c.ScreenInterval = c.ScreenInterval.orDefault(def.ScreenInterval)
	c.ChunkDuration = c.ChunkDuration.orDefault(def.ChunkDuration)
	if c.CaptureMode != CaptureRemote {
		c.CaptureMode = CaptureLocal
	}
	return c
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
