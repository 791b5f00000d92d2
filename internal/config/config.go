package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/arisofia/ocr-backend/internal/platform/envutil"
)

// Settings is the process-wide configuration, loaded once from the
// environment. Services receive a pointer and must treat it as immutable.
type Settings struct {
	AppName        string
	AppDescription string
	Version        string

	OCRAPIKey        string
	APIKeyHeaderName string

	BucketName      string
	OutputPrefix    string
	CloudMaxRetries int

	GCPProjectID     string
	GCPLocation      string
	DocAIProcessorID string

	EnableReconstruction bool
	OCRIterations        int
	ConfidenceThreshold  float64
	MaxImageMB           int

	Environment    string
	AllowedOrigins []string

	OpenAIAPIKey     string
	GeminiAPIKey     string
	HuggingFaceToken string
	PerplexityAPIKey string

	SupabaseURL         string
	SupabaseServiceRole string
	UseLocalFallback    bool
	LocalDataPath       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Port string

	ProviderMaxRetries int
	ProviderTimeout    time.Duration
	CloudWriteDeadline time.Duration

	TesseractPath string
}

var (
	loadOnce sync.Once
	loaded   *Settings
	loadErr  error
)

// Get returns the cached process settings, loading them on first use.
func Get() (*Settings, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Load()
	})
	return loaded, loadErr
}

// Load parses settings from the environment. Exposed separately from Get so
// tests can construct isolated instances.
func Load() (*Settings, error) {
	s := &Settings{
		AppName:        "AL Financial OCR Project",
		AppDescription: "Professional Iterative OCR & Pixel Reconstruction Service",
		Version:        "1.2.0",

		OCRAPIKey:        envutil.Str("OCR_API_KEY", "default_secret_key"),
		APIKeyHeaderName: envutil.Str("API_KEY_HEADER_NAME", "X-API-KEY"),

		BucketName:      envutil.Str("GCS_BUCKET_NAME", ""),
		OutputPrefix:    envutil.Str("OUTPUT_PREFIX", "ocr_outputs/"),
		CloudMaxRetries: envutil.Int("CLOUD_MAX_RETRIES", 3),

		GCPProjectID:     envutil.Str("GCP_PROJECT_ID", ""),
		GCPLocation:      envutil.Str("GCP_LOCATION", "us"),
		DocAIProcessorID: envutil.Str("DOCAI_PROCESSOR_ID", ""),

		EnableReconstruction: envutil.Bool("ENABLE_RECONSTRUCTION", false),
		OCRIterations:        envutil.Int("OCR_ITERATIONS", 3),
		ConfidenceThreshold:  envutil.Float("CONFIDENCE_THRESHOLD", 0.5),
		MaxImageMB:           envutil.Int("MAX_IMAGE_MB", 10),

		Environment:    envutil.Str("ENVIRONMENT", "development"),
		AllowedOrigins: envutil.List("ALLOWED_ORIGINS", []string{"*"}),

		OpenAIAPIKey:     envutil.Str("OPENAI_API_KEY", ""),
		GeminiAPIKey:     envutil.Str("GEMINI_API_KEY", ""),
		HuggingFaceToken: envutil.Str("HUGGING_FACE_HUB_TOKEN", ""),
		PerplexityAPIKey: envutil.Str("PERPLEXITY_API_KEY", ""),

		SupabaseURL:         envutil.Str("SUPABASE_URL", ""),
		SupabaseServiceRole: envutil.Str("SUPABASE_SERVICE_ROLE", ""),
		UseLocalFallback:    envutil.Bool("USE_LOCAL_FALLBACK", true),
		LocalDataPath:       envutil.Str("LOCAL_DATA_PATH", "data/learning_patterns.json"),

		RedisAddr:     envutil.Str("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envutil.Str("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),

		Port: envutil.Str("PORT", "8000"),

		ProviderMaxRetries: envutil.Int("PROVIDER_MAX_RETRIES", 3),
		ProviderTimeout:    time.Duration(envutil.Int("PROVIDER_TIMEOUT_SECONDS", 60)) * time.Second,
		CloudWriteDeadline: time.Duration(envutil.Int("CLOUD_WRITE_DEADLINE_SECONDS", 2)) * time.Second,

		TesseractPath: envutil.Str("TESSERACT_PATH", "tesseract"),
	}
	if s.CloudMaxRetries < 1 {
		s.CloudMaxRetries = 1
	}
	if s.ProviderMaxRetries < 1 {
		s.ProviderMaxRetries = 1
	}
	if s.OCRIterations < 1 {
		s.OCRIterations = 1
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Environment == "production" {
		for _, o := range s.AllowedOrigins {
			if o == "*" {
				return fmt.Errorf("wildcard CORS origins are not allowed in production")
			}
		}
	}
	return nil
}

// SupabaseEnabled reports whether the cloud pattern store is configured.
func (s *Settings) SupabaseEnabled() bool {
	return s.SupabaseURL != "" && s.SupabaseServiceRole != ""
}
