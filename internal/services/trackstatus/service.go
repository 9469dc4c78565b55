package trackstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hemlockoak/parcelscan/internal/broker/messages"
	"github.com/hemlockoak/parcelscan/internal/cache"
	"github.com/hemlockoak/parcelscan/internal/integrations/carrier"
	"github.com/hemlockoak/parcelscan/internal/models"
)

type Repository interface {
	GetTrackingStatus(ctx context.Context, trackingNumber string) (*models.TrackingStatus, error)
	UpsertTrackingStatus(ctx context.Context, ts *models.TrackingStatus) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Tracker interface {
	Track(ctx context.Context, carrierName, trackingNumber string) (carrier.Result, error)
}

// Service memoizes carrier lookups. A cached status younger than the TTL is
// served as-is; anything older triggers a carrier call, falling back to the
// stale row when the carrier is unreachable.
type Service struct {
	repo     Repository
	carriers Tracker
	cache    cache.BytesCache
	producer Producer

	topic string
	ttl   time.Duration

	rl                 RateLimiter
	rateLimitPerMinute int64
}

func New(repo Repository, carriers Tracker, c cache.BytesCache, producer Producer, topic string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Service{
		repo:     repo,
		carriers: carriers,
		cache:    c,
		producer: producer,
		topic:    topic,
		ttl:      ttl,
	}
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.rateLimitPerMinute = perMinute
	return s
}

func (s *Service) TTL() time.Duration { return s.ttl }

// GetStatus returns the memoized status, fetching from the carrier when the
// entry is missing or expired.
func (s *Service) GetStatus(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error) {
	now := time.Now().UTC()

	if ts := s.fromRedis(ctx, trackingNumber); ts != nil && s.fresh(ts, now) {
		return ts, nil
	}

	stored, err := s.repo.GetTrackingStatus(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if stored != nil && s.fresh(stored, now) {
		s.toRedis(ctx, stored)
		return stored, nil
	}

	fresh, err := s.Refresh(ctx, trackingNumber, carrierName)
	if err == nil {
		return fresh, nil
	}

	// carrier unreachable: an expired entry beats nothing at all
	if stored != nil {
		slog.Warn("serving stale tracking status", "tracking_number", trackingNumber, "error", err.Error())
		stale := *stored
		stale.Stale = true
		return &stale, nil
	}
	return nil, err
}

// fresh reports whether a cached entry may still be served. A lapsed delivery
// estimate on an undelivered parcel expires the entry early so the page never
// shows a promise date that already passed.
func (s *Service) fresh(ts *models.TrackingStatus, now time.Time) bool {
	if now.Sub(ts.FetchedAt) >= s.ttl {
		return false
	}
	if !ts.Delivered && ts.EstimatedDelivery != nil && ts.EstimatedDelivery.Before(now) {
		return false
	}
	return true
}

// Refresh always goes to the carrier, bypassing both cache tiers.
func (s *Service) Refresh(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error) {
	if trackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	now := time.Now().UTC()

	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:carrier:%s:%s", carrierName, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err == nil && !allowed {
			slog.Warn("carrier rate limit exceeded", "carrier", carrierName, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, err := s.carriers.Track(ctx, carrierName, trackingNumber)
	if err != nil {
		if errors.Is(err, carrier.ErrNotFound) {
			// fresh labels are not an error; remember the miss so the
			// refresher does not hammer the carrier
			ts := &models.TrackingStatus{
				TrackingNumber: trackingNumber,
				Carrier:        carrierName,
				Status:         models.TrackingStatusUnknown,
				StatusText:     "No carrier record yet",
				FetchedAt:      now,
			}
			if err := s.repo.UpsertTrackingStatus(ctx, ts); err != nil {
				return nil, err
			}
			s.toRedis(ctx, ts)
			return ts, nil
		}
		return nil, err
	}

	prev, err := s.repo.GetTrackingStatus(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	ts := &models.TrackingStatus{
		TrackingNumber:    trackingNumber,
		Carrier:           carrierName,
		Status:            res.Status,
		StatusText:        res.StatusText,
		EstimatedDelivery: res.EstimatedDelivery,
		LastLocation:      res.LastLocation,
		Delivered:         res.Delivered,
		RawStatusCode:     res.RawStatusCode,
		FetchedAt:         now,
	}
	if err := s.repo.UpsertTrackingStatus(ctx, ts); err != nil {
		return nil, err
	}
	s.toRedis(ctx, ts)

	if s.producer != nil && (prev == nil || prev.Status != ts.Status) {
		s.publish(ctx, ts)
	}
	return ts, nil
}

// ApplyUpdate folds a status event from the broker into both cache tiers.
// Events older than the stored row are dropped.
func (s *Service) ApplyUpdate(ctx context.Context, m messages.StatusUpdated) error {
	stored, err := s.repo.GetTrackingStatus(ctx, m.TrackingNumber)
	if err != nil {
		return err
	}
	if stored != nil && !m.CheckedAt.After(stored.FetchedAt) {
		return nil
	}

	ts := &models.TrackingStatus{
		TrackingNumber:    m.TrackingNumber,
		Carrier:           m.Carrier,
		Status:            m.Status,
		StatusText:        m.StatusText,
		RawStatusCode:     m.RawStatusCode,
		Delivered:         m.Delivered,
		EstimatedDelivery: m.EstimatedDelivery,
		LastLocation:      m.LastLocation,
		FetchedAt:         m.CheckedAt,
	}
	if err := s.repo.UpsertTrackingStatus(ctx, ts); err != nil {
		return err
	}
	s.toRedis(ctx, ts)
	return nil
}

func (s *Service) publish(ctx context.Context, ts *models.TrackingStatus) {
	msg := messages.StatusUpdated{
		TrackingNumber:    ts.TrackingNumber,
		Carrier:           ts.Carrier,
		CheckedAt:         ts.FetchedAt,
		Status:            ts.Status,
		StatusText:        ts.StatusText,
		RawStatusCode:     ts.RawStatusCode,
		Delivered:         ts.Delivered,
		EstimatedDelivery: ts.EstimatedDelivery,
		LastLocation:      ts.LastLocation,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal status update", "error", err.Error())
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(ts.TrackingNumber), b); err != nil {
		slog.Error("publish status update", "tracking_number", ts.TrackingNumber, "error", err.Error())
	}
}

func (s *Service) fromRedis(ctx context.Context, trackingNumber string) *models.TrackingStatus {
	if s.cache == nil {
		return nil
	}
	b, ok, err := s.cache.Get(ctx, statusKey(trackingNumber))
	if err != nil || !ok {
		return nil
	}
	var ts models.TrackingStatus
	if json.Unmarshal(b, &ts) != nil {
		return nil
	}
	return &ts
}

func (s *Service) toRedis(ctx context.Context, ts *models.TrackingStatus) {
	if s.cache == nil {
		return
	}
	b, _ := json.Marshal(ts)
	_ = s.cache.Set(ctx, statusKey(ts.TrackingNumber), b, s.ttl)
}

func statusKey(trackingNumber string) string {
	return fmt.Sprintf("track:%s:status", trackingNumber)
}
