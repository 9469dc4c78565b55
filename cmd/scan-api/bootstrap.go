package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hemlockoak/parcelscan/config"
	"github.com/hemlockoak/parcelscan/internal/api/scanapi"
	"github.com/hemlockoak/parcelscan/internal/broker/kafka"
	"github.com/hemlockoak/parcelscan/internal/cache/rediscache"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/canadaposthttp"
	carrierfake "github.com/hemlockoak/parcelscan/internal/integrations/carrier/fake"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier/upshttp"
	"github.com/hemlockoak/parcelscan/internal/integrations/notify"
	notifyfake "github.com/hemlockoak/parcelscan/internal/integrations/notify/fake"
	"github.com/hemlockoak/parcelscan/internal/integrations/notify/klaviyohttp"
	"github.com/hemlockoak/parcelscan/internal/integrations/orders/shopifyhttp"
	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/hemlockoak/parcelscan/internal/services/notifier"
	"github.com/hemlockoak/parcelscan/internal/services/orders"
	"github.com/hemlockoak/parcelscan/internal/services/scans"
	"github.com/hemlockoak/parcelscan/internal/services/trackstatus"
	"github.com/hemlockoak/parcelscan/internal/storage/pgstore"
)

type scanAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   scanAPIOpts

	api        *scanapi.API
	status     *trackstatus.Service
	scans      *scans.Service
	dispatcher *notifier.Dispatcher
	consumer   *kafka.Consumer
	closeDB    func()
}

func mustBootstrapScanAPI() *scanAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	httpAddr := cfg.Scanner.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Scanner.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "scan-api"
	}
	topic := cfg.Kafka.StatusUpdatedTopicName
	if topic == "" {
		topic = "parcel.status.updated"
	}
	ttl := time.Duration(cfg.Scanner.TrackingTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	lookback := time.Duration(cfg.Scanner.OrderLookbackDays) * 24 * time.Hour
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	rlPerMin := int64(cfg.Scanner.RateLimitPerCarrierPerMin)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}
	timeout := time.Duration(cfg.Scanner.CarrierTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	statusSvc := trackstatus.New(st, newCarrierRegistry(cfg, timeout), rc, producer, topic, ttl).
		WithRateLimiter(rl, rlPerMin)

	var source orders.Source
	if cfg.Scanner.OrderSourceBaseURL != "" {
		source = shopifyhttp.New(cfg.Scanner.OrderSourceBaseURL, cfg.Scanner.OrderSourceAccessToken, timeout)
	}
	resolver := orders.NewResolver(st, source, lookback)

	scanSvc := scans.New(st, resolver)

	var sender notify.Sender = notifyfake.New()
	if cfg.Scanner.NotifyBaseURL != "" && cfg.Scanner.NotifyAPIKey != "" {
		sender = klaviyohttp.New(cfg.Scanner.NotifyBaseURL, cfg.Scanner.NotifyAPIKey, "", timeout)
	}
	dispatcher := notifier.New(st, sender, resolver)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &scanAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: scanAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:        scanapi.New(scanSvc, statusSvc, dispatcher, resolver),
		status:     statusSvc,
		scans:      scanSvc,
		dispatcher: dispatcher,
		consumer:   consumer,
		closeDB:    st.Close,
	}
}

func newCarrierRegistry(cfg *config.Config, timeout time.Duration) carrier.Registry {
	reg := carrier.Registry{}
	for _, name := range []string{
		models.CarrierUPS, models.CarrierCanadaPost, models.CarrierFedEx,
		models.CarrierPurolator, models.CarrierDHL, models.CarrierUSPS,
	} {
		reg[name] = carrierfake.New(name)
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

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *scanAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	// let in-flight order backfills and notification runs finish
	if a.scans != nil {
		a.scans.Wait()
	}
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *scanAPIApp) Run() error {
	return runScanAPI(a.ctx, a.opts, a.api, a.status, a.consumer)
}
