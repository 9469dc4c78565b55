package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hemlockoak/parcelscan/config"
	"github.com/hemlockoak/parcelscan/internal/cache"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/canadaposthttp"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/fake"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/upshttp"
	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/hemlockoak/parcelscan/internal/services/orders"
	"github.com/hemlockoak/parcelscan/internal/services/trackstatus"
)

type fakeStorage struct{}

func (s *fakeStorage) GetTrackingStatus(ctx context.Context, trackingNumber string) (*models.TrackingStatus, error) {
	return nil, nil
}
func (s *fakeStorage) UpsertTrackingStatus(ctx context.Context, ts *models.TrackingStatus) error {
	return nil
}
func (s *fakeStorage) ListActiveTrackingNumbers(ctx context.Context, carrier string, since time.Time, limit int) ([]string, error) {
	return nil, nil
}
func (s *fakeStorage) UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	return o, nil
}
func (s *fakeStorage) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return nil, nil
}
func (s *fakeStorage) FindOrderByTracking(ctx context.Context, trackingNumber string) (*models.Order, error) {
	return nil, nil
}
func (s *fakeStorage) FindOrderByTrackingFuzzy(ctx context.Context, trackingNumber string) (*models.Order, error) {
	return nil, nil
}
func (s *fakeStorage) UpsertCancelledOrder(ctx context.Context, co *models.CancelledOrder) error {
	return nil
}
func (s *fakeStorage) GetCancelledOrder(ctx context.Context, orderNumber string) (*models.CancelledOrder, error) {
	return nil, nil
}
func (s *fakeStorage) LastOrderSyncAt(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}
func (s *fakeStorage) SetLastOrderSyncAt(ctx context.Context, t time.Time) error { return nil }

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return nil
}

func TestNewCarrierRegistry_SelectsClients(t *testing.T) {
	cfg := &config.Config{Scanner: config.ScannerConfig{
		UPSClientID:        "id",
		UPSClientSecret:    "secret",
		CanadaPostUsername: "user",
		CanadaPostPassword: "pass",
	}}
	reg := newCarrierRegistry(cfg)

	_, ok := reg[models.CarrierUPS].(*upshttp.Client)
	require.True(t, ok)
	_, ok = reg[models.CarrierCanadaPost].(*canadaposthttp.Client)
	require.True(t, ok)
	_, ok = reg[models.CarrierFedEx].(*fake.Client)
	require.True(t, ok)
}

func TestNewCarrierRegistry_FallsBackToFake(t *testing.T) {
	reg := newCarrierRegistry(&config.Config{})

	for _, name := range []string{
		models.CarrierUPS, models.CarrierCanadaPost, models.CarrierFedEx,
		models.CarrierPurolator, models.CarrierDHL, models.CarrierUSPS,
	} {
		_, ok := reg[name].(*fake.Client)
		require.True(t, ok, name)
	}
}

func TestDefaultWorkerFactories_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newStatusCache(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newCarriers(cfg))

	require.Nil(t, f.newOrderSource(cfg))
	cfg.Scanner.OrderSourceBaseURL = "https://shop.example.com"
	require.NotNil(t, f.newOrderSource(cfg))
}

func TestRunScanWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			return &fakeStorage{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) trackstatus.Producer {
			return noopProducer{}
		},
		newStatusCache: func(cfg *config.Config) cache.BytesCache {
			return nil
		},
		newRateLimiter: func(cfg *config.Config) trackstatus.RateLimiter {
			return nil
		},
		newCarriers: func(cfg *config.Config) carrier.Registry {
			return carrier.Registry{models.CarrierUPS: fake.New(models.CarrierUPS)}
		},
		newOrderSource: func(cfg *config.Config) orders.Source {
			return nil
		},
	}

	cfg := &config.Config{
		Kafka:   config.KafkaConfig{StatusUpdatedTopicName: "t"},
		Scanner: config.ScannerConfig{RefreshIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunScanWorker(ctx, cfg, f, "")
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
