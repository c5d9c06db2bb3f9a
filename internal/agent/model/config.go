package model

import "time"

// ================ Config ================
type LLMConfig struct {
	DefaultModel  string  `envconfig:"LLM_DEFAULT_MODEL" default:"gemini-2.5-flash"`
	FallbackModel string  `envconfig:"LLM_FALLBACK_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens     int     `envconfig:"LLM_MAX_TOKENS" default:"1000"`
	Temperature   float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	HistoryLimit  int     `envconfig:"LLM_HISTORY_LIMIT" default:"10"`
}

type MediaConfig struct {
	MaxSizeMB       int           `envconfig:"MEDIA_MAX_SIZE_MB" default:"8"`
	Bucket          string        `envconfig:"MEDIA_BUCKET"`
	DownloadTimeout time.Duration `envconfig:"MEDIA_DOWNLOAD_TIMEOUT" default:"30s"`
	PollInterval    time.Duration `envconfig:"TRANSCRIBE_POLL_INTERVAL" default:"1s"`
	MaxAttempts     int           `envconfig:"TRANSCRIBE_MAX_ATTEMPTS" default:"30"`
	Language        string        `envconfig:"TRANSCRIBE_LANGUAGE" default:"en-US"`
}

// MaxBytes is the size cap in bytes.
func (c MediaConfig) MaxBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

type GateConfig struct {
	Driver    string        `envconfig:"GATE_DRIVER" default:"memory"`
	Window    time.Duration `envconfig:"GATE_WINDOW" default:"5s"`
	Capacity  int           `envconfig:"GATE_CAPACITY" default:"3"`
	Retention time.Duration `envconfig:"GATE_RETENTION" default:"10m"`
}

type SessionConfig struct {
	Timeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"1h"`

	// LockDriver is "memory" for a single replica or "redis" across replicas.
	LockDriver string        `envconfig:"SESSION_LOCK_DRIVER" default:"memory"`
	LockTTL    time.Duration `envconfig:"SESSION_LOCK_TTL" default:"30s"`
	LockWait   time.Duration `envconfig:"SESSION_LOCK_WAIT" default:"5s"`
}

type IdentityConfig struct {
	DefaultRoutingID string `envconfig:"DEFAULT_ROUTING_ID" default:"+12766639185"`
}

type TwilioConfig struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	APIBase    string `envconfig:"TWILIO_API_BASE" default:"https://api.twilio.com"`
	// WhatsApp prefixes outbound addresses with "whatsapp:".
	WhatsApp bool `envconfig:"TWILIO_WHATSAPP" default:"true"`
}

type MessengerConfig struct {
	AppSecret       string `envconfig:"MESSENGER_APP_SECRET"`
	PageAccessToken string `envconfig:"MESSENGER_PAGE_ACCESS_TOKEN"`
	VerifyToken     string `envconfig:"MESSENGER_VERIFY_TOKEN"`
	GraphBase       string `envconfig:"MESSENGER_GRAPH_BASE" default:"https://graph.facebook.com/v18.0"`
}
