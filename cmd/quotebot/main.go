package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comigor/quotebot/internal/agent"
	"github.com/comigor/quotebot/internal/calendar"
	"github.com/comigor/quotebot/internal/catalog"
	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/document"
	"github.com/comigor/quotebot/internal/history"
	"github.com/comigor/quotebot/internal/intent"
	"github.com/comigor/quotebot/internal/llm"
	"github.com/comigor/quotebot/internal/logger"
	"github.com/comigor/quotebot/internal/outbox"
	"github.com/comigor/quotebot/internal/pipeline"
	"github.com/comigor/quotebot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg); err != nil {
		logger.L.Error("quotebot stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Catalog
	cat, err := catalog.Open(cfg.Catalog.DBPath)
	if err != nil {
		return err
	}
	defer cat.Close()
	if n, err := catalog.Seed(ctx, cat, cfg.Catalog.Seed); err != nil {
		return err
	} else if n > 0 {
		logger.L.Info("catalog seeded", "entries", n)
	}

	// Conversation store
	var store history.Store
	switch cfg.History.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.History.RedisAddr,
			Password: cfg.History.RedisPassword,
			DB:       cfg.History.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.L.Warn("redis not reachable yet", "addr", cfg.History.RedisAddr, "error", err)
		}
		store = history.NewRedisStore(rdb, cfg.History.IdleTTL)
	default:
		store = history.NewMemoryStore(cfg.History.MaxConversations, cfg.History.IdleTTL)
	}

	// Reasoning and speech-to-text
	llmClient := llm.NewClient(cfg.LLM)
	classifier := intent.NewClassifier(llm.NewReasoner(llmClient, cfg.LLM), intent.WithPersona(cfg.LLM.Persona))
	transcriber := llm.NewTranscriber(llmClient, cfg.LLM)

	documents := document.NewPDFRenderer(cfg.Document)

	// Calendar
	var reminders calendar.Reminder = calendar.Unavailable{}
	if cfg.Calendar.Enabled {
		mcpC, err := calendar.Connect(ctx, cfg.Calendar)
		if err != nil {
			logger.L.Error("calendar unavailable, bookings will fail", "error", err)
		} else {
			defer mcpC.Close()
			reminders = calendar.NewMCPReminder(mcpC, cfg.Calendar)
		}
	}

	// Delivery
	var (
		channel delivery.Channel = delivery.LogChannel{}
		bot     *telegram.Client
	)
	if cfg.Telegram.Token != "" {
		bot = telegram.NewClient(cfg.Telegram)
		channel = bot
	} else {
		logger.L.Warn("telegram token not set, replies are only logged")
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithTimeouts(cfg.Pipeline),
		pipeline.WithDocumentName(cfg.Document.Filename),
	}

	// Outbox
	if cfg.Outbox.Enabled {
		jobs, err := outbox.Open(cfg.Outbox.DBPath)
		if err != nil {
			return err
		}
		defer jobs.Close()
		worker := outbox.NewWorker(jobs, cfg.Outbox, map[outbox.Kind]outbox.Handler{
			outbox.KindDocument: outbox.DocumentHandler(documents, channel, cfg.Document.Filename),
			outbox.KindBooking:  outbox.BookingHandler(reminders, channel),
		},
			outbox.WithJobTimeout(outbox.KindDocument, cfg.Pipeline.DocumentTimeout+2*cfg.Pipeline.SendTimeout),
			outbox.WithJobTimeout(outbox.KindBooking, cfg.Pipeline.BookingTimeout+cfg.Pipeline.SendTimeout),
		)
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			worker.Run(ctx)
		}()
		defer func() { <-workerDone }()
		pipelineOpts = append(pipelineOpts, pipeline.WithOutbox(jobs))
	}

	runner := pipeline.New(cat, channel, documents, reminders, pipelineOpts...)
	orchestrator, err := agent.New(store, cat, classifier, runner, channel, agent.WithTimeouts(cfg.Pipeline))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_conversations": orchestrator.Dispatcher().Active()})
	})
	mux.HandleFunc("POST /turns", turnsHandler(orchestrator))
	if bot != nil {
		mux.Handle("POST /telegram/webhook", telegram.NewWebhook(bot, orchestrator.Dispatcher(), orchestrator, transcriber, cfg.Telegram.WebhookSecret))
		mux.HandleFunc("GET /telegram/set-webhook", func(w http.ResponseWriter, r *http.Request) {
			if cfg.Telegram.WebhookURL == "" {
				http.Error(w, "telegram.webhook_url is not configured", http.StatusBadRequest)
				return
			}
			url := strings.TrimRight(cfg.Telegram.WebhookURL, "/") + "/telegram/webhook"
			if err := bot.SetWebhook(r.Context(), url, cfg.Telegram.WebhookSecret); err != nil {
				logger.L.Error("set webhook failed", "error", err)
				http.Error(w, "failed to set webhook", http.StatusBadGateway)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"webhook_url": url})
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("http shutdown", "error", err)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("turns still running at shutdown", "error", err)
	}
	return nil
}

type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// turnsHandler accepts a turn from any ingress other than Telegram and answers
// before the turn is processed.
func turnsHandler(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.ConversationID == "" || strings.TrimSpace(req.Text) == "" {
			http.Error(w, "conversation_id and text are required", http.StatusBadRequest)
			return
		}
		if err := a.Submit(req.ConversationID, req.Text); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response", "error", err)
	}
}
