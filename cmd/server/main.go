// Command server runs the voice passport pipeline service. main wires the
// collaborators and keeps the lifecycle small; workflow logic lives in the
// internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"voicepassport/internal/audit"
	"voicepassport/internal/credential"
	"voicepassport/internal/delivery"
	"voicepassport/internal/encoder"
	"voicepassport/internal/ledger"
	"voicepassport/internal/ledger/nonce"
	"voicepassport/internal/matching"
	"voicepassport/internal/pipeline"
	"voicepassport/internal/platform/config"
	"voicepassport/internal/platform/httpserver"
	"voicepassport/internal/platform/logger"
	"voicepassport/internal/platform/metrics"
	redisplatform "voicepassport/internal/platform/redis"
	"voicepassport/internal/samplestore"
	httptransport "voicepassport/internal/transport/http"
	"voicepassport/internal/userstore"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	eth, err := ethclient.DialContext(ctx, cfg.Ledger.Endpoint)
	if err != nil {
		log.Error("dial ledger endpoint", "endpoint", cfg.Ledger.Endpoint, "error", err)
		return err
	}
	defer eth.Close()

	key, err := crypto.HexToECDSA(cfg.Ledger.CallerKeyHex)
	if err != nil {
		log.Error("parse caller key", "error", err)
		return err
	}
	caller := crypto.PubkeyToAddress(key.PublicKey)

	rdb, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		return err
	}

	var alloc nonce.Allocator
	if rdb != nil {
		defer rdb.Close()
		alloc, err = nonce.NewRedis(ctx, rdb.Client, eth, caller)
	} else {
		alloc, err = nonce.NewLocal(ctx, eth, caller)
	}
	if err != nil {
		log.Error("seed nonce allocator", "caller", caller.Hex(), "error", err)
		return err
	}

	chain, err := ledger.New(ctx, eth, alloc, cfg.Ledger.CallerKeyHex, cfg.Ledger.ContractAddress,
		ledger.WithLogger(log),
		ledger.WithMetrics(m),
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
	)
	if err != nil {
		log.Error("build ledger adapter", "error", err)
		return err
	}

	index, err := matching.NewQdrantIndex(cfg.VectorIndex)
	if err != nil {
		log.Error("connect vector index", "error", err)
		return err
	}

	enc, err := encoder.NewHTTP(cfg.Encoder)
	if err != nil {
		log.Error("build feature encoder", "error", err)
		return err
	}

	engine, err := matching.NewEngine(enc, index, cfg.VectorIndex.Collection, matching.WithLogger(log))
	if err != nil {
		log.Error("build matching engine", "error", err)
		return err
	}

	var users userstore.Store = userstore.NewMemoryStore()
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			return err
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, userstore.Schema); err != nil {
			log.Error("apply user store schema", "error", err)
			return err
		}
		users = userstore.NewPostgres(db)
	}

	var samples pipeline.SampleSource = samplestore.NewMemory()
	if cfg.ObjectStore.Endpoint != "" || cfg.ObjectStore.AccessKey != "" {
		samples, err = samplestore.NewS3(ctx, cfg.ObjectStore)
		if err != nil {
			log.Error("build sample source", "error", err)
			return err
		}
	}

	issuer, err := credential.NewIssuer(cfg.Credential)
	if err != nil {
		log.Error("build credential issuer", "error", err)
		return err
	}

	// Audit entries flow through a buffered channel to a worker so appends
	// stay off the run's critical path. The durable sink degrades to the
	// process log rather than failing a workflow.
	var durable audit.Sink = audit.NewMemoryStore()
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(ctx, cfg.Kafka)
		if err != nil {
			log.Error("connect audit topic", "error", err)
			return err
		}
		defer kafkaSink.Close()
		durable = kafkaSink
	}
	fallback := audit.NewFallback(durable, log)
	inbox := make(chan audit.Entry, 256)
	trail := audit.NewChannelSink(inbox, fallback)
	worker := audit.NewWorker(fallback, inbox)

	deliverer := delivery.NewWebhook(cfg.WebhookRetry,
		delivery.WithLogger(log),
		delivery.WithMetrics(m),
	)

	orch, err := pipeline.New(pipeline.Deps{
		Matcher:     engine,
		Ledger:      chain,
		Deliverer:   deliverer,
		Audit:       trail,
		Users:       users,
		Samples:     samples,
		Credentials: issuer,
	}, cfg.StageRetry,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithMinScore(cfg.AuthMinScore),
	)
	if err != nil {
		log.Error("build orchestrator", "error", err)
		return err
	}

	handler := httptransport.NewHandler(orch, log)
	router := httptransport.NewRouter(handler, registry)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting voicepassport", "addr", cfg.Addr, "caller", caller.Hex())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		return err
	}
	log.Info("shutdown complete")
	return nil
}
