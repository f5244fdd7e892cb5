package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/recall-engine/internal/api"
	"github.com/nidhogg/recall-engine/internal/config"
	"github.com/nidhogg/recall-engine/internal/consolidation"
	"github.com/nidhogg/recall-engine/internal/embedding"
	"github.com/nidhogg/recall-engine/internal/graph"
	"github.com/nidhogg/recall-engine/internal/quality"
	"github.com/nidhogg/recall-engine/internal/recall"
	"github.com/nidhogg/recall-engine/internal/selector"
	"github.com/nidhogg/recall-engine/internal/semantic"
	"github.com/nidhogg/recall-engine/internal/session"
	"github.com/nidhogg/recall-engine/internal/store"
	"github.com/nidhogg/recall-engine/internal/synthesis"
	"github.com/nidhogg/recall-engine/internal/temporal"
	"github.com/nidhogg/recall-engine/internal/vectorstore"
	"go.uber.org/zap"
)

// noQualityStore serves neutral metrics when Postgres is unavailable.
type noQualityStore struct{}

func (noQualityStore) GetQuality(ctx context.Context, memoryID, layer string) (*quality.Record, error) {
	return nil, nil
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting recall engine...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/recall.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	var layers []recall.Layer

	// PostgreSQL: episodic, procedural and prospective layers plus quality
	// tracking.
	var pgStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without episodic layers", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			layers = append(layers,
				store.NewEpisodicLayer(ps),
				store.NewProceduralLayer(ps),
				store.NewProspectiveLayer(ps),
			)
		}
	}

	// Neo4j: temporal chains and the graph layer.
	var driver neo4j.DriverWithContext
	var chains *temporal.Builder
	if cfg.Database.Neo4j.URI != "" {
		d, nErr := neo4j.NewDriverWithContext(cfg.Database.Neo4j.URI,
			neo4j.BasicAuth(cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, ""))
		if nErr == nil {
			nErr = d.VerifyConnectivity(context.Background())
		}
		if nErr != nil {
			logger.Warn("Neo4j unavailable, running without graph layer", zap.Error(nErr))
		} else {
			driver = d
			chains = temporal.NewBuilder(temporal.NewNeo4jStore(driver, logger), logger)
			layers = append(layers, graph.NewLayer(driver, logger))
		}
	}

	// Qdrant + embeddings: the semantic layer.
	var semanticLayer *semantic.Layer
	var qdrant *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without semantic layer", zap.Error(qErr))
		} else {
			qdrant = qc
			embedder := embedding.NewHTTPProvider(embedding.Config{
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			semanticLayer = semantic.NewLayer(embedder, qdrant, logger)
			if iErr := semanticLayer.Init(context.Background()); iErr != nil {
				logger.Warn("semantic collection init failed", zap.Error(iErr))
			}
			layers = append(layers, semanticLayer)
		}
	}

	// Redis: active session tracking.
	var sessions *session.Manager
	if cfg.Database.Redis.URL != "" {
		sm, sErr := session.NewManager(cfg.Database.Redis.URL, logger)
		if sErr != nil {
			logger.Warn("Redis unavailable, running without session context", zap.Error(sErr))
		} else {
			sessions = sm
		}
	}

	// Optional synthesis for Tier 3.
	var synth recall.Synthesizer
	if cfg.Synthesis.Enabled {
		synth = synthesis.NewClient(synthesis.Config{
			Endpoint: cfg.Synthesis.Endpoint,
			APIKey:   cfg.Synthesis.APIKey,
			Model:    cfg.Synthesis.Model,
		}, logger)
	}

	// Quality-aware reweighting, backed by Postgres when available.
	var qualityStore quality.Store = noQualityStore{}
	if pgStore != nil {
		qualityStore = pgStore
	}
	tracker := quality.NewTracker(qualityStore, logger)
	reweighter := quality.NewReweighter(tracker, logger)

	sel := selector.New(logger)
	if cfg.Recall.LayerThreshold > 0 {
		sel = selector.NewWithThreshold(cfg.Recall.LayerThreshold, logger)
	}

	var sessionSource recall.SessionManager
	if sessions != nil {
		sessionSource = sessions.Scoped(os.Getenv("RECALL_PROJECT_ID"))
	}

	orch := recall.NewOrchestrator(layers, sel, reweighter, sessionSource, synth, recall.Config{
		LayerTimeout: time.Duration(cfg.Recall.LayerTimeoutMS) * time.Millisecond,
		DefaultK:     cfg.Recall.DefaultK,
	}, logger)
	logger.Info("Recall pipeline wired", zap.Int("layers", len(layers)))

	// Consolidation measurement needs both episodic and semantic reads.
	var measurer *consolidation.Measurer
	if pgStore != nil && semanticLayer != nil {
		measurer = consolidation.NewMeasurer(
			store.NewEpisodicReader(pgStore),
			semantic.NewReader(semanticLayer),
			logger)
	}

	var eventStore api.EventStore
	if pgStore != nil {
		eventStore = pgStore
	}
	var sessionStore api.SessionStore
	if sessions != nil {
		sessionStore = sessions
	}

	handler := api.NewHandler(orch, chains, measurer, eventStore, sessionStore, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Recall engine listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down recall engine...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	if driver != nil {
		driver.Close(ctx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if sessions != nil {
		sessions.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}
