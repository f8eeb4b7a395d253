package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meridianhq/eventcore/eventstore"
	esPersistence "github.com/meridianhq/eventcore/eventstore/persistence"
	tenantPersistence "github.com/meridianhq/eventcore/modules/tenant/infrastructure/persistence"
	"github.com/meridianhq/eventcore/modules/tenant/presentation/controllers"
	"github.com/meridianhq/eventcore/modules/tenant/services"
	"github.com/meridianhq/eventcore/pkg/cache"
	"github.com/meridianhq/eventcore/pkg/composables"
	"github.com/meridianhq/eventcore/pkg/configuration"
	"github.com/meridianhq/eventcore/pkg/eventbus"
	"github.com/meridianhq/eventcore/pkg/metrics"
	"github.com/meridianhq/eventcore/pkg/outbox"
	eventbusdispatcher "github.com/meridianhq/eventcore/pkg/outbox/dispatchers/eventbus"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event store daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	return cmd
}

func serve(parent context.Context) error {
	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := buildStore(conf, pool, logger)

	bus := eventbus.NewEventPublisher(logger)
	subscribeEventLogger(bus, logger)
	startOutboxBackground(ctx, conf, pool, logger, bus)

	outboxTable, err := outbox.ParseIdentifier("public.event_outbox")
	if err != nil {
		return err
	}
	var repoOpts []tenantPersistence.TenantRepositoryOption
	if conf.Snapshots.Enabled {
		repoOpts = append(repoOpts, tenantPersistence.WithSnapshots(
			esPersistence.NewPgSnapshotStore(pool),
			eventstore.EventCountPolicy{N: conf.Snapshots.Interval},
		))
	}
	tenants := services.NewTenantService(
		tenantPersistence.NewTenantRepository(store, outbox.NewPublisher(), outboxTable, repoOpts...),
	)

	r := mux.NewRouter()
	r.Use(providePool(pool))
	r.HandleFunc("/health", healthHandler(pool)).Methods(http.MethodGet)
	r.HandleFunc("/stats", statsHandler(store, logger)).Methods(http.MethodGet)
	controllers.NewTenantAPIController(tenants).Register(r)
	if conf.Prometheus.Enabled {
		metrics.NewPrometheusController(conf.Prometheus.Path).Register(r)
	}

	srv := &http.Server{
		Addr:              conf.SocketAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", conf.SocketAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func buildStore(conf *configuration.Configuration, pool *pgxpool.Pool, logger *logrus.Logger) eventstore.Store {
	pgStore := esPersistence.NewPgStore(pool)
	if !conf.Cache.Enabled {
		return pgStore
	}
	client := redis.NewClient(&redis.Options{Addr: conf.Cache.RedisURL})
	return eventstore.NewCachedStore(
		pgStore,
		cache.NewRedisCache(client, conf.Cache.Prefix),
		conf.Cache.TTL,
		logger.WithField("component", "eventcache"),
	)
}

// subscribeEventLogger attaches a baseline subscriber so relayed events are
// visible in the logs even before any domain handlers register.
func subscribeEventLogger(bus eventbus.EventBus, logger *logrus.Logger) {
	bus.Subscribe(func(meta *outbox.Meta, topic string, payload json.RawMessage) error {
		logger.WithFields(logrus.Fields{
			"topic":    topic,
			"event_id": meta.EventID,
			"tenant":   meta.TenantID,
		}).Info("event published")
		return nil
	})
}

// providePool binds the pgx pool into every request context so the
// repositories can open transactions via composables.
func providePool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func statsHandler(store eventstore.Store, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			logger.WithError(err).Error("stats query failed")
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

func startOutboxBackground(
	ctx context.Context,
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	logger *logrus.Logger,
	bus eventbus.EventBus,
) {
	outboxLog := logger.WithField("component", "outbox")

	relayTables, relayTablesErr := outbox.ParseIdentifierList(conf.Outbox.RelayTables)
	if relayTablesErr != nil {
		outboxLog.WithError(relayTablesErr).Warn("outbox: invalid OUTBOX_RELAY_TABLES; relay disabled")
		relayTables = nil
	}

	cleanerTables := relayTables
	if conf.Outbox.CleanerTables != "" {
		var err error
		cleanerTables, err = outbox.ParseIdentifierList(conf.Outbox.CleanerTables)
		if err != nil {
			outboxLog.WithError(err).Warn("outbox: invalid OUTBOX_CLEANER_TABLES; cleaner disabled")
			cleanerTables = nil
		}
	}

	if conf.Outbox.RelayEnabled {
		switch {
		case len(relayTables) == 0:
			if relayTablesErr == nil {
				outboxLog.Info("outbox: relay enabled but OUTBOX_RELAY_TABLES is empty")
			}
		default:
			eb, ok := bus.(eventbus.EventBusWithError)
			if !ok {
				outboxLog.Warn("outbox: eventbus does not support PublishE; relay not started")
				break
			}
			dispatcher := eventbusdispatcher.New(eb)
			for _, table := range relayTables {
				relay, err := outbox.NewRelay(pool, table, dispatcher, outbox.RelayOptions{
					PollInterval:    conf.Outbox.RelayPollInterval,
					BatchSize:       conf.Outbox.RelayBatchSize,
					LockTTL:         conf.Outbox.RelayLockTTL,
					MaxAttempts:     conf.Outbox.RelayMaxAttempts,
					SingleActive:    conf.Outbox.RelaySingleActive,
					LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
					DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
					Logger:          outboxLog.WithField("table", outbox.TableLabel(table)),
				})
				if err != nil {
					outboxLog.WithError(err).Warn("outbox: failed to create relay")
					continue
				}
				go func(r *outbox.Relay) {
					if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						outboxLog.WithError(err).Error("outbox: relay stopped")
					}
				}(relay)
			}
		}
	}

	if conf.Outbox.CleanerEnabled && len(cleanerTables) > 0 {
		for _, table := range cleanerTables {
			cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
				Enabled:               true,
				Interval:              conf.Outbox.CleanerInterval,
				Retention:             conf.Outbox.CleanerRetention,
				DeadRetention:         conf.Outbox.CleanerDeadRetention,
				DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
				Logger:                outboxLog.WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
				continue
			}
			go func(c *outbox.Cleaner) {
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					outboxLog.WithError(err).Error("outbox: cleaner stopped")
				}
			}(cleaner)
		}
	} else if conf.Outbox.CleanerEnabled && len(cleanerTables) == 0 {
		outboxLog.Info("outbox: cleaner enabled but no tables configured")
	}
}
