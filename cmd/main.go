package main

import (
	"context"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"fulfillment-service/internal/allocator"
	"fulfillment-service/internal/audit"
	"fulfillment-service/internal/cache"
	"fulfillment-service/internal/config"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/engine"
	"fulfillment-service/internal/ids"
	"fulfillment-service/internal/kafka"
	"fulfillment-service/internal/ledger"
	"fulfillment-service/internal/metrics"
	taskprocessor "fulfillment-service/internal/processor"
	"fulfillment-service/internal/repository"
	"fulfillment-service/internal/server"
	"fulfillment-service/internal/store"
)

func main() {
	cfg := config.LoadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(cfg.SnapshotFile)
	if err != nil {
		log.Printf("Snapshot load failed, starting empty: %v", err)
	}

	led := ledger.New()
	gen := ids.NewGenerator()
	clock := ids.SystemClock()
	policy := allocator.WeightedPolicy{
		HomeWeight:    3,
		CollectWeight: 1,
		MixedWeight:   1,
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	alloc := allocator.New(policy, gen)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	eng := engine.New(st, led, alloc, clock, gen).WithMetrics(m)

	processors := []audit.Processor{&audit.StdoutProcessor{Filter: cfg.FilterWord}}

	database, err := db.NewDB(cfg.DSN, cfg.MigrationsDir)
	if err != nil {
		log.Printf("Database unavailable, running on the snapshot store: %v", err)
	} else {
		defer database.Close()

		repo := repository.NewOrderRepository(database)
		warmStore(st, repo)
		if events, err := repo.ListAuditEvents(); err != nil {
			log.Printf("Audit replay failed: %v", err)
		} else if len(events) > 0 {
			if err := led.RecordAll(events); err != nil {
				log.Printf("Audit replay rejected: %v", err)
			}
		}
		eng.WithPersister(repo)

		processors = append(processors, audit.NewDBProcessor(database))

		tasks := repository.NewPostgresTaskRepository(database)
		processors = append(processors, audit.NewOutboxProcessor(tasks))

		producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Printf("Kafka unavailable, outbox tasks will wait: %v", err)
		} else {
			defer producer.Close()
			tp := taskprocessor.NewTaskProcessor(tasks, producer, cfg.KafkaTopic, 5*time.Second, 50)
			go tp.Start(ctx)
			go kafka.StartSaramaConsumer(ctx, sarama.NewConfig(), cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaTopic})
		}
	}

	pool := audit.NewWorkerPool(audit.PoolConfig{
		BatchSize:   cfg.AuditBatchSize,
		Timeout:     2 * time.Second,
		ChannelSize: 1024,
	}, processors...)
	pool.Start(ctx, cfg.AuditWorkers)
	defer pool.Shutdown(cancel)
	eng.WithSink(pool)

	watchlist := cache.NewWatchlist()
	go watchlist.StartAutoRefresh(ctx, eng, cfg.WatchlistRefresh)

	srv := server.NewServer(eng, watchlist, m, registry, cfg)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// warmStore pages durable orders into the in-memory store.
func warmStore(st *store.OrderStore, repo *repository.OrderRepository) {
	cursor := ""
	const pageSize = 500
	for {
		page, err := repo.List(cursor, pageSize)
		if err != nil {
			log.Printf("Warming store failed at cursor %q: %v", cursor, err)
			return
		}
		for _, o := range page {
			if err := st.Save(o); err != nil {
				log.Printf("Warming store: saving %s: %v", o.ID, err)
			}
		}
		if len(page) < pageSize {
			return
		}
		cursor = page[len(page)-1].ID
	}
}
