package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     Server     `yaml:"server"`
	Instagram  Instagram  `yaml:"instagram"`
	Database   Database   `yaml:"database"`
	AI         AI         `yaml:"ai"`
	Automation Automation `yaml:"automation"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Dedup      Dedup      `yaml:"dedup"`
	Archive    Archive    `yaml:"archive"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Instagram holds Instagram Graph API configuration
type Instagram struct {
	BaseURL     string        `yaml:"base_url" env:"INSTAGRAM_BASE_URL" env-default:"https://graph.instagram.com"`
	APIVersion  string        `yaml:"api_version" env:"INSTAGRAM_API_VERSION" env-default:"v21.0"`
	VerifyToken string        `yaml:"verify_token" env:"INSTAGRAM_VERIFY_TOKEN"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"INSTAGRAM_SEND_TIMEOUT" env-default:"10s"`
}

// Database holds database configuration
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	MaxConns int32 `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns int32 `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"5"`
}

// AI holds AI responder configuration
type AI struct {
	APIKey        string        `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	Model         string        `yaml:"model" env:"AI_MODEL" env-default:"claude-3-5-haiku-latest"`
	MaxTokens     int           `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"1024"`
	Timeout       time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"20s"`
	SystemPrompt  string        `yaml:"system_prompt" env:"AI_SYSTEM_PROMPT" env-default:"You are a friendly assistant answering Instagram direct messages on behalf of a business. Keep replies short and conversational. When the conversation is fully resolved, end your final reply with [[handoff]]."`
	FallbackReply string        `yaml:"fallback_reply" env:"AI_FALLBACK_REPLY" env-default:"Thanks for your message! A team member will get back to you shortly."`
}

// Automation holds default automation flow settings.
// Per-account overrides live on the account record.
type Automation struct {
	CaptureEmail bool   `yaml:"capture_email" env:"AUTOMATION_CAPTURE_EMAIL" env-default:"true"`
	CapturePhone bool   `yaml:"capture_phone" env:"AUTOMATION_CAPTURE_PHONE" env-default:"true"`
	MaxReprompts int    `yaml:"max_reprompts" env:"AUTOMATION_MAX_REPROMPTS" env-default:"3"`
	Greeting     string `yaml:"greeting" env:"AUTOMATION_GREETING" env-default:"Hey! Thanks for reaching out."`
	EmailPrompt  string `yaml:"email_prompt" env:"AUTOMATION_EMAIL_PROMPT" env-default:"Could you share your email so we can follow up?"`
	EmailRetry   string `yaml:"email_retry" env:"AUTOMATION_EMAIL_RETRY" env-default:"That doesn't look like an email address, mind sending it again?"`
	PhonePrompt  string `yaml:"phone_prompt" env:"AUTOMATION_PHONE_PROMPT" env-default:"Great! And a phone number we can reach you at?"`
	PhoneRetry   string `yaml:"phone_retry" env:"AUTOMATION_PHONE_RETRY" env-default:"Hmm, that doesn't look like a phone number, could you try again?"`
	AIIntro      string `yaml:"ai_intro" env:"AUTOMATION_AI_INTRO" env-default:"Perfect, you're all set! Ask me anything."`
	OptOutReply  string `yaml:"opt_out_reply" env:"AUTOMATION_OPT_OUT_REPLY" env-default:"No problem, we won't message you again. Have a great day!"`
}

// Pipeline holds event pipeline configuration
type Pipeline struct {
	Workers      int           `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"32"`
	SendRetries  int           `yaml:"send_retries" env:"PIPELINE_SEND_RETRIES" env-default:"5"`
	RetryBase    time.Duration `yaml:"retry_base" env:"PIPELINE_RETRY_BASE" env-default:"500ms"`
	RetryBudget  time.Duration `yaml:"retry_budget" env:"PIPELINE_RETRY_BUDGET" env-default:"30s"`
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"PIPELINE_DRAIN_TIMEOUT" env-default:"20s"`
}

// Dedup holds idempotency filter configuration
type Dedup struct {
	Horizon       time.Duration `yaml:"horizon" env:"DEDUP_HORIZON" env-default:"168h"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"DEDUP_PURGE_INTERVAL" env-default:"1h"`
}

// Archive holds S3 transcript archive configuration
type Archive struct {
	Enabled         bool   `yaml:"enabled" env:"ARCHIVE_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"ARCHIVE_S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"ARCHIVE_S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"ARCHIVE_S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"ARCHIVE_S3_BUCKET" env-default:"transcripts"`
	Region          string `yaml:"region" env:"ARCHIVE_S3_REGION" env-default:"us-east-1"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
