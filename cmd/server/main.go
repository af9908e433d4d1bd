package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/config"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/httpserver"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/speech"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/store"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	expert, err := dialogue.NewGeminiExpert(context.Background(), cfg.GeminiKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("dialogue service init failed: %v", err)
	}

	var synth speech.Synthesizer
	switch cfg.TTSProvider {
	case "deepgram":
		synth = speech.NewDeepgramSynthesizer(cfg.DeepgramKey, cfg.DeepgramModel)
	default:
		synth = speech.NewElevenLabsSynthesizer(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceEN, cfg.ElevenLabsVoiceTA, cfg.ElevenLabsModelID)
	}

	recordStore, err := store.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	if err != nil {
		log.Fatalf("record store init failed: %v", err)
	}

	app := httpserver.New(cfg, expert, synth, recordStore)
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("server error: %v", err)
	case sig := <-shutdown:
		log.Printf("shutdown started, signal %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			log.Fatalf("graceful shutdown failed: %v", err)
		}
		log.Println("shutdown complete")
	}
}
