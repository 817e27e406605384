package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/database"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is how long a tracking session stays valid without being
// explicitly renewed or ended.
const DefaultTTL = 2 * time.Hour

// Store is the authoritative record of tracking sessions. Redis holds
// the hot active/bus lookups the realtime core hits on every update;
// Postgres holds the session rows and location history.
type Store struct {
	redis *database.RedisClient
	db    *gorm.DB
}

func NewStore(redisClient *database.RedisClient, db *gorm.DB) *Store {
	return &Store{
		redis: redisClient,
		db:    db,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Create opens a new tracking session for a bus and caches it in Redis.
func (s *Store) Create(ctx context.Context, busID string) (*models.Session, error) {
	sess := &models.Session{
		ID:        uuid.New().String(),
		BusID:     busID,
		Active:    true,
		ExpiresAt: time.Now().Add(DefaultTTL),
	}

	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.cacheSession(ctx, sess); err != nil {
		slog.Warn("Failed to cache session", "sessionID", sess.ID, "error", err)
	}

	slog.Info("Tracking session created", "sessionID", sess.ID, "busID", busID)
	return sess, nil
}

// IsActive reports whether a session exists, is flagged active and has
// not expired.
func (s *Store) IsActive(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Active && time.Now().Before(sess.ExpiresAt), nil
}

// BusID returns the bus a session is bound to.
func (s *Store) BusID(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.BusID, nil
}

// PersistLocation appends a location sample to the session's history.
func (s *Store) PersistLocation(ctx context.Context, sample models.LocationSample) error {
	record := &models.LocationRecord{
		SessionID:       sample.SessionID,
		BusID:           sample.BusID,
		Latitude:        sample.Latitude,
		Longitude:       sample.Longitude,
		Accuracy:        sample.Accuracy,
		ClientTimestamp: sample.Timestamp,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to persist location: %w", err)
	}
	return nil
}

// End marks a session inactive and drops it from the Redis cache. Ending
// an already-ended or unknown session is a no-op.
func (s *Store) End(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to end session: %w", result.Error)
	}

	if err := s.redis.GetClient().Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		slog.Warn("Failed to evict session from cache", "sessionID", sessionID, "error", err)
	}

	slog.Info("Tracking session ended", "sessionID", sessionID)
	return nil
}

func (s *Store) cacheSession(ctx context.Context, sess *models.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	pipe := s.redis.GetClient().Pipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), map[string]interface{}{
		"bus_id":     sess.BusID,
		"active":     sess.Active,
		"expires_at": sess.ExpiresAt.Unix(),
	})
	pipe.Expire(ctx, sessionKey(sess.ID), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// lookup resolves a session from Redis, falling back to Postgres and
// re-warming the cache on a miss.
func (s *Store) lookup(ctx context.Context, sessionID string) (*models.Session, error) {
	fields, err := s.redis.GetClient().HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("Session cache read failed", "sessionID", sessionID, "error", err)
	}
	if len(fields) > 0 {
		return sessionFromCache(sessionID, fields), nil
	}

	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.cacheSession(ctx, &sess); err != nil {
		slog.Debug("Failed to re-cache session", "sessionID", sessionID, "error", err)
	}
	return &sess, nil
}

func sessionFromCache(sessionID string, fields map[string]string) *models.Session {
	sess := &models.Session{
		ID:    sessionID,
		BusID: fields["bus_id"],
	}
	if fields["active"] == "1" || fields["active"] == "true" {
		sess.Active = true
	}
	if raw, ok := fields["expires_at"]; ok {
		var unix int64
		if _, err := fmt.Sscanf(raw, "%d", &unix); err == nil {
			sess.ExpiresAt = time.Unix(unix, 0)
		}
	}
	return sess
}
