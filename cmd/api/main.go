// Package main implements the MedGate prior-authorization API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MedGateAI/medgate-engine/engine/audit"
	"github.com/MedGateAI/medgate-engine/engine/authz"
	"github.com/MedGateAI/medgate-engine/engine/embed"
	"github.com/MedGateAI/medgate-engine/engine/patients"
	"github.com/MedGateAI/medgate-engine/engine/policy"
	"github.com/MedGateAI/medgate-engine/engine/semantic"
	"github.com/MedGateAI/medgate-engine/pkg/metrics"
	"github.com/MedGateAI/medgate-engine/pkg/mid"
	"github.com/MedGateAI/medgate-engine/pkg/ollama"
	"github.com/MedGateAI/medgate-engine/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	MetricsPort int

	ModelPath string
	IndexPath string
	PolicyDB  string
	PatientDB string
	AuditLog  string

	// Optional remote backends. Setting OllamaURL swaps the in-process
	// model for a served one; QdrantURL swaps the flat index for Qdrant;
	// NATSURL swaps the file audit log for a publisher.
	OllamaURL    string
	OllamaModel  string
	OllamaDims   int
	OllamaRPS    float64
	QdrantURL    string
	Collection   string
	NATSURL      string
	AuditSubject string

	CORSOrigin   string
	RateRPS      float64
	RateBurst    int
	BatchWorkers int
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		MetricsPort: envInt("METRICS_PORT", 9090),

		ModelPath: envOr("MODEL_PATH", "data/model/embedder.json"),
		IndexPath: envOr("INDEX_PATH", "data/index/policies.json"),
		PolicyDB:  envOr("POLICY_DB", "data/policies.db"),
		PatientDB: envOr("PATIENT_DB", "data/patients.db"),
		AuditLog:  envOr("AUDIT_LOG", "data/logs/decisions.jsonl"),

		OllamaURL:    os.Getenv("OLLAMA_URL"),
		OllamaModel:  envOr("OLLAMA_MODEL", "nomic-embed-text"),
		OllamaDims:   envInt("OLLAMA_DIMS", 768),
		OllamaRPS:    envFloat("OLLAMA_RPS", 10),
		QdrantURL:    os.Getenv("QDRANT_URL"),
		Collection:   envOr("QDRANT_COLLECTION", "policies"),
		NATSURL:      os.Getenv("NATS_URL"),
		AuditSubject: envOr("AUDIT_SUBJECT", audit.DefaultSubject),

		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		RateRPS:      envFloat("RATE_RPS", 50),
		RateBurst:    envInt("RATE_BURST", 100),
		BatchWorkers: envInt("BATCH_WORKERS", 4),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedder ---
	var embedder authz.Embedder
	if cfg.OllamaURL != "" {
		client := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaDims, cfg.OllamaRPS)
		embedder = &breakerEmbedder{
			inner:   client,
			breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		}
		logger.Info("using ollama embedder", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
	} else {
		model, err := embed.Load(cfg.ModelPath)
		if err != nil {
			return fmt.Errorf("load embedding model: %w", err)
		}
		embedder = model
		logger.Info("using local embedder", "path", cfg.ModelPath, "dims", model.Dims())
	}

	// --- Retriever ---
	var retriever authz.Retriever
	if cfg.QdrantURL != "" {
		store, err := semantic.NewVectorStore(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer store.Close()
		retriever = &qdrantRetriever{store: store}
		logger.Info("using qdrant retriever", "url", cfg.QdrantURL, "collection", cfg.Collection)
	} else {
		index, err := semantic.RestoreFlat(cfg.IndexPath)
		if err != nil {
			return fmt.Errorf("restore index: %w", err)
		}
		retriever = &flatRetriever{index: index}
		logger.Info("using flat index retriever", "path", cfg.IndexPath, "docs", index.Len())
	}

	// --- Stores ---
	policies, err := policy.OpenSQL(cfg.PolicyDB)
	if err != nil {
		return fmt.Errorf("open policy db: %w", err)
	}
	defer policies.Close()

	registry, err := patients.OpenSQL(cfg.PatientDB)
	if err != nil {
		return fmt.Errorf("open patient db: %w", err)
	}
	defer registry.Close()

	// --- Audit sink ---
	var sink authz.AuditSink
	var reader auditReader
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("medgate-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		sink = audit.NewNATSSink(nc, cfg.AuditSubject)
		logger.Info("audit sink: nats", "url", cfg.NATSURL, "subject", cfg.AuditSubject)
	} else {
		fileSink, err := audit.NewFileSink(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("audit sink: %w", err)
		}
		sink = fileSink
		reader = fileSink
		logger.Info("audit sink: file", "path", cfg.AuditLog)
	}

	// --- Authorization service ---
	svc, err := authz.New(authz.Deps{
		Embedder:  embedder,
		Retriever: retriever,
		Policies:  policies,
		Patients:  registry,
		Audit:     sink,
		Log:       logger,
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	// --- Metrics ---
	reg := metrics.New()
	if fi, ok := retriever.(*flatRetriever); ok {
		reg.Gauge("policy_index_docs", "Documents in the vector index").Set(int64(fi.index.Len()))
	}
	reg.ServeAsync(cfg.MetricsPort)
	logger.Info("metrics server starting", "port", cfg.MetricsPort)

	// --- HTTP server ---
	app := newAPI(svc, reader, reg, cfg.BatchWorkers, logger)
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateRPS, Burst: cfg.RateBurst})

	handler := mid.Chain(app.routes(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(limiter),
		mid.OTel("medgate-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Adapters ---

// flatRetriever adapts the in-process index to the authz.Retriever
// interface.
type flatRetriever struct {
	index *semantic.FlatIndex
}

func (r *flatRetriever) Retrieve(_ context.Context, embedding []float32, k int) ([]semantic.Hit, error) {
	return r.index.Search(embedding, k)
}

// qdrantRetriever adapts VectorStore to the authz.Retriever interface.
type qdrantRetriever struct {
	store *semantic.VectorStore
}

func (r *qdrantRetriever) Retrieve(ctx context.Context, embedding []float32, k int) ([]semantic.Hit, error) {
	return r.store.Search(ctx, embedding, k)
}

// breakerEmbedder shields the remote embedder behind a circuit breaker so a
// dead model server fails requests fast instead of stacking timeouts.
type breakerEmbedder struct {
	inner   *ollama.EmbedClient
	breaker *resilience.Breaker
}

func (b *breakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.inner.Embed(ctx, text)
		return err
	})
	return out, err
}
