package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Dialogue service (Gemini)
	GeminiKey   string
	GeminiModel string

	// Speech-to-text
	AssemblyAIKey string

	// Speech synthesis
	TTSProvider       string // "elevenlabs" or "deepgram"
	ElevenLabsKey     string
	ElevenLabsVoiceEN string
	ElevenLabsVoiceTA string
	ElevenLabsModelID string
	DeepgramKey       string
	DeepgramModel     string

	// Record persistence
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// Interview tuning. These are policy knobs, not load-bearing logic.
	MaxQuestions  int
	MaxUnknowns   int
	SilenceWindow time.Duration
	GraceWindow   time.Duration
	SessionTTL    time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - server will not start without it")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash-lite"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - voice answers will not work")
	}

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider == "" {
		ttsProvider = "elevenlabs"
	}
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if elevenKey == "" && deepgramKey == "" {
		log.Println("Warning: no TTS API key set - questions will be shown as text only")
	}
	elevenModel := os.Getenv("ELEVENLABS_TTS_MODEL")
	if elevenModel == "" {
		elevenModel = "eleven_multilingual_v2"
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL / SUPABASE_SERVICE_ROLE_KEY not set - records will not be persisted")
	}
	bucket := os.Getenv("SUPABASE_BUCKET")
	if bucket == "" {
		bucket = "pre-screenings"
	}

	cfg := Config{
		HTTPAddress:       addr,
		GeminiKey:         geminiKey,
		GeminiModel:       geminiModel,
		AssemblyAIKey:     assemblyAIKey,
		TTSProvider:       ttsProvider,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceEN: os.Getenv("ELEVENLABS_VOICE_ID_EN"),
		ElevenLabsVoiceTA: os.Getenv("ELEVENLABS_VOICE_ID_TA"),
		ElevenLabsModelID: elevenModel,
		DeepgramKey:       deepgramKey,
		DeepgramModel:     deepgramModel,
		SupabaseURL:       supabaseURL,
		SupabaseKey:       supabaseKey,
		SupabaseBucket:    bucket,
		MaxQuestions:      envInt("MAX_QUESTIONS", 6),
		MaxUnknowns:       envInt("MAX_UNKNOWNS", 2),
		SilenceWindow:     envDuration("SILENCE_WINDOW", 4*time.Second),
		GraceWindow:       envDuration("SUBMIT_GRACE_WINDOW", time.Second),
		SessionTTL:        envDuration("SESSION_TTL", 30*time.Minute),
	}

	log.Printf("config: HTTP_ADDRESS=%s tts=%s max_questions=%d max_unknowns=%d",
		cfg.HTTPAddress, cfg.TTSProvider, cfg.MaxQuestions, cfg.MaxUnknowns)
	return cfg
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
