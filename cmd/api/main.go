package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/reelworks/shortgen/internal/api"
	"github.com/reelworks/shortgen/internal/config"
	"github.com/reelworks/shortgen/internal/pipeline"
	"github.com/reelworks/shortgen/internal/queue"
	"github.com/reelworks/shortgen/internal/services"
	"github.com/reelworks/shortgen/internal/storage"
	"github.com/reelworks/shortgen/internal/store"
	"github.com/reelworks/shortgen/internal/worker"
)

func main() {
	log.Println("Starting shortgen API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()
	log.Println("Connected to database")

	if err := st.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize artifact storage
	stor, err := storage.New(cfg.OutputDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Artifacts stored in %s", cfg.OutputDir)

	if cfg.ArtifactRetentionDays > 0 {
		retention := time.Duration(cfg.ArtifactRetentionDays) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				if removed := stor.Sweep(retention); removed > 0 {
					log.Printf("Swept %d expired artifacts", removed)
				}
			}
		}()
	}

	// Create API handler
	handler := api.NewHandler(st, q, stor, cfg.DefaultDuration, cfg.DefaultFPS)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		tempDir := filepath.Join(cfg.TempDir, "shortgen")
		ffmpegSvc := services.NewFFmpegService(tempDir)
		openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)

		// TTS provider — ElevenLabs preferred, OpenAI speech as fallback
		var ttsSvc services.TTSService
		if cfg.ElevenLabsKey != "" {
			ttsSvc = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
			log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
		} else {
			ttsSvc = services.NewOpenAITTSService(cfg.OpenAIKey)
			log.Println("TTS provider: OpenAI speech")
		}
		synth := &services.FileSynthesizer{TTS: ttsSvc, Dir: tempDir}

		// Visual sources — stock footage first, generated stills as fallback
		var sources []services.VisualSource
		if cfg.PexelsKey != "" {
			sources = append(sources, services.NewPexelsService(cfg.PexelsKey, tempDir))
			log.Println("Visual source: Pexels stock footage")
		}
		if cfg.GeminiKey != "" {
			sources = append(sources, services.NewImagenService(cfg.GeminiKey, cfg.ImagenModel, tempDir))
			log.Println("Visual source: Imagen generated backgrounds")
		}
		visuals := services.NewVisualChain(sources...)

		w := worker.New(st, q, stor, openaiSvc, ffmpegSvc, synth, visuals, worker.Options{
			TempDir:     tempDir,
			Renderers:   cfg.RenderWorkers,
			TaskTimeout: time.Duration(cfg.RenderTaskTimeout) * time.Second,
			BannerPath:  cfg.BannerImagePath,
		})

		log.Printf("Render pool size: %d", poolSizeFor(cfg.RenderWorkers))

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentRuns)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker first so in-flight runs cancel their encoder processes
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func poolSizeFor(override int) int {
	if override > 0 {
		return override
	}
	return pipeline.PoolSize()
}
