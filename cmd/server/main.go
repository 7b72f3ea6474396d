package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/config"
	"github.com/AmulyaVeldandi/AuDRA/internal/core"
	"github.com/AmulyaVeldandi/AuDRA/internal/corpus"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
	"github.com/AmulyaVeldandi/AuDRA/internal/ehr"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
	"github.com/AmulyaVeldandi/AuDRA/internal/server"
)

func main() {
	logger := newLogger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file found, using process environment")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfgPath).Msg("config file not loaded, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	llmClient, embedder, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize LLM client")
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to lineage store")
	}
	defer store.Close(context.Background())

	handle := corpus.NewHandle(loadCorpus(cfg, embedder, logger))

	var ehrClient ehr.Client
	if cfg.EHR.BaseURL != "" {
		ehrClient = ehr.NewHTTPClient(cfg.EHR.BaseURL, cfg.EHR.APIKey)
		logger.Info().Str("base_url", cfg.EHR.BaseURL).Msg("using external order system")
	} else {
		ehrClient = ehr.NewLocalClient()
		logger.Info().Msg("no order system configured, using local task records")
	}

	pipeline := core.NewPipeline(store, llmClient, embedder, handle, ehrClient, cfg, logger)

	srv := server.NewServer(pipeline, logger)
	r := srv.SetupRouter()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info().Str("port", port).Msg("starting server")
	if err := r.Run(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("APP_ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newStore(cfg *config.Config, logger zerolog.Logger) (driver.Store, error) {
	if cfg.Store.URI == "" {
		logger.Info().Msg("no store URI configured, using in-memory store")
		return driver.NewMemoryStore(), nil
	}
	logger.Info().Str("uri", cfg.Store.URI).Msg("connecting to Memgraph store")
	store, err := driver.NewMemgraphStore(cfg.Store.URI, cfg.Store.User, cfg.Store.Password)
	if err != nil {
		return nil, err
	}
	if err := store.BuildIndices(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to build store indices")
	}
	return store, nil
}

// loadCorpus embeds the guideline passages at startup. A missing corpus file
// or a failed embedding pass leaves the corpus empty: every retrieval then
// comes back empty and findings are routed to review instead of matched.
func loadCorpus(cfg *config.Config, embedder llm.EmbedderClient, logger zerolog.Logger) *corpus.Corpus {
	c, err := corpus.LoadFile(cfg.Corpus.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Corpus.Path).Msg("guideline corpus not loaded, retrieval disabled")
		return corpus.New(nil)
	}
	if embedder == nil {
		logger.Warn().Msg("no embedding client, retrieval disabled")
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	embedded, err := c.WithEmbeddings(ctx, embedder)
	if err != nil {
		logger.Error().Err(err).Msg("failed to embed guideline corpus, retrieval disabled")
		return corpus.New(nil)
	}
	logger.Info().Int("passages", embedded.Len()).Msg("guideline corpus loaded")
	return embedded
}
