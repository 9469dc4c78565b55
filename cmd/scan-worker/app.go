package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hemlockoak/parcelscan/config"
	"github.com/hemlockoak/parcelscan/internal/broker/kafka"
	"github.com/hemlockoak/parcelscan/internal/cache"
	"github.com/hemlockoak/parcelscan/internal/cache/rediscache"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/canadaposthttp"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/fake"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/upshttp"
	"github.com/hemlockoak/parcelscan/internal/integrations/orders/shopifyhttp"
	"github.com/hemlockoak/parcelscan/internal/metrics"
	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/hemlockoak/parcelscan/internal/services/orders"
	"github.com/hemlockoak/parcelscan/internal/services/refresher"
	"github.com/hemlockoak/parcelscan/internal/services/trackstatus"
	"github.com/hemlockoak/parcelscan/internal/storage/pgstore"
)

// workerStorage is everything the refresh plane needs from Postgres.
type workerStorage interface {
	trackstatus.Repository
	refresher.Repository
	orders.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerStorage, func(), error)
	newProducer    func(cfg *config.Config) trackstatus.Producer
	newStatusCache func(cfg *config.Config) cache.BytesCache
	newRateLimiter func(cfg *config.Config) trackstatus.RateLimiter
	newCarriers    func(cfg *config.Config) carrier.Registry
	newOrderSource func(cfg *config.Config) orders.Source
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgstore.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) trackstatus.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newStatusCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newRateLimiter: func(cfg *config.Config) trackstatus.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCarriers: func(cfg *config.Config) carrier.Registry {
			return newCarrierRegistry(cfg)
		},
		newOrderSource: func(cfg *config.Config) orders.Source {
			if cfg.Scanner.OrderSourceBaseURL == "" {
				return nil
			}
			timeout := time.Duration(cfg.Scanner.CarrierTimeoutSeconds) * time.Second
			return shopifyhttp.New(cfg.Scanner.OrderSourceBaseURL, cfg.Scanner.OrderSourceAccessToken, timeout)
		},
	}
}

// newCarrierRegistry builds the lookup table for every carrier the classifier
// can emit. Carriers without configured credentials fall back to the local
// fake so a dev environment still produces statuses.
func newCarrierRegistry(cfg *config.Config) carrier.Registry {
	timeout := time.Duration(cfg.Scanner.CarrierTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	reg := carrier.Registry{}
	for _, name := range []string{
		models.CarrierUPS, models.CarrierCanadaPost, models.CarrierFedEx,
		models.CarrierPurolator, models.CarrierDHL, models.CarrierUSPS,
	} {
		reg[name] = fake.New(name)
	}

	if cfg.Scanner.UPSClientID != "" && cfg.Scanner.UPSClientSecret != "" {
		reg[models.CarrierUPS] = upshttp.New(
			cfg.Scanner.UPSBaseURL, cfg.Scanner.UPSClientID, cfg.Scanner.UPSClientSecret, timeout)
	}
	if cfg.Scanner.CanadaPostUsername != "" && cfg.Scanner.CanadaPostPassword != "" {
		reg[models.CarrierCanadaPost] = canadaposthttp.New(
			cfg.Scanner.CanadaPostBaseURL, cfg.Scanner.CanadaPostUsername, cfg.Scanner.CanadaPostPassword, timeout)
	}
	return reg
}

// measuredStatus counts refresher-driven carrier lookups per carrier.
type measuredStatus struct {
	svc *trackstatus.Service
	m   *metrics.Metrics
}

func (s *measuredStatus) Refresh(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error) {
	ts, err := s.svc.Refresh(ctx, trackingNumber, carrierName)
	if err != nil {
		s.m.RefreshErrors.WithLabelValues(carrierName).Inc()
		return nil, err
	}
	s.m.StatusRefreshes.WithLabelValues(carrierName).Inc()
	return ts, nil
}

func RunScanWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	topic := cfg.Kafka.StatusUpdatedTopicName
	if topic == "" {
		topic = "parcel.status.updated"
	}

	ttl := time.Duration(cfg.Scanner.TrackingTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	interval := time.Duration(cfg.Scanner.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	syncInterval := time.Duration(cfg.Scanner.OrderSyncIntervalSeconds) * time.Second
	if syncInterval <= 0 {
		syncInterval = 5 * time.Minute
	}
	activityWindow := time.Duration(cfg.Scanner.RefreshActivityWindowDays) * 24 * time.Hour
	if activityWindow <= 0 {
		activityWindow = 30 * 24 * time.Hour
	}
	lookback := time.Duration(cfg.Scanner.OrderLookbackDays) * 24 * time.Hour
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	capUPS := cfg.Scanner.RefreshCapUPS
	if capUPS <= 0 {
		capUPS = 30
	}
	capCP := cfg.Scanner.RefreshCapCanadaPost
	if capCP <= 0 {
		capCP = 20
	}
	rlPerMin := int64(cfg.Scanner.RateLimitPerCarrierPerMin)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	statusCache := f.newStatusCache(cfg)
	rl := f.newRateLimiter(cfg)
	carriers := f.newCarriers(cfg)

	m := metrics.New()

	statusSvc := trackstatus.New(st, carriers, statusCache, producer, topic, ttl).
		WithRateLimiter(rl, rlPerMin)

	ref := refresher.New(st, &measuredStatus{svc: statusSvc, m: m},
		[]string{models.CarrierUPS, models.CarrierCanadaPost}).
		WithSettings(interval, 0, activityWindow).
		WithCap(models.CarrierUPS, capUPS).
		WithCap(models.CarrierCanadaPost, capCP).
		WithCycleHook(m.RefreshCycles.Inc)

	if source := f.newOrderSource(cfg); source != nil {
		syncer := orders.NewSyncer(st, source, lookback)
		go runOrderSync(ctx, syncer, syncInterval, m)
	} else {
		slog.Warn("order source not configured, order sync disabled")
	}

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Scanner.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			refresher:   ref,
			cfg:         cfg,
			metrics:     m,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("worker http server stopped", "error", err.Error())
		}
	}()

	return ref.Run(ctx)
}

func runOrderSync(ctx context.Context, syncer *orders.Syncer, interval time.Duration, m *metrics.Metrics) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := syncer.SyncOnce(ctx); err != nil {
			m.OrderSyncFailures.Inc()
			slog.Error("order sync failed", "error", err.Error())
		} else {
			m.OrderSyncs.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
