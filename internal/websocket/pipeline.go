package websocket

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/models"
	"github.com/Shaik-Faizan-Ahmed/CollegeBusTracker-sub000/internal/ratelimit"
)

// SessionStore is the authoritative record of tracking sessions,
// consulted but never owned by the realtime core.
type SessionStore interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
	BusID(ctx context.Context, sessionID string) (string, error)
	PersistLocation(ctx context.Context, sample models.LocationSample) error
	End(ctx context.Context, sessionID string) error
}

// EventPublisher mirrors broadcasts onto an external feed for
// downstream integrations. Publishing is best-effort and must never
// block or fail the pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload interface{})
}

// Pipeline validates and applies one location update at a time for a
// given tracker connection. Every step is a distinct rejection point;
// a rejection at any step guarantees that nothing was persisted and
// nothing was broadcast.
type Pipeline struct {
	limiter     *ratelimit.Limiter
	sessions    SessionStore
	registry    *Registry
	feed        EventPublisher
	staleCutoff time.Duration

	// now is replaceable in tests
	now func() time.Time
}

func NewPipeline(limiter *ratelimit.Limiter, sessions SessionStore, registry *Registry, feed EventPublisher, staleCutoff time.Duration) *Pipeline {
	return &Pipeline{
		limiter:     limiter,
		sessions:    sessions,
		registry:    registry,
		feed:        feed,
		staleCutoff: staleCutoff,
		now:         time.Now,
	}
}

// Process runs one inbound location sample through the full pipeline:
// rate check, shape validation, session liveness, bus ownership,
// persistence, broadcast. Errors are typed: *RateLimitedError,
// *ValidationError, ErrSessionExpired, ErrBusMismatch, or a wrapped
// infrastructure failure.
func (p *Pipeline) Process(ctx context.Context, conn *Connection, sample models.LocationSample) (*LocationUpdateAck, error) {
	res := p.limiter.Allow(conn.ID, EventLocationUpdate.String())
	if !res.Allowed {
		return nil, &RateLimitedError{RetryAfter: res.RetryAfter}
	}

	if err := p.validate(sample); err != nil {
		return nil, err
	}

	active, err := p.sessions.IsActive(ctx, sample.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session liveness check failed: %w", err)
	}
	if !active {
		return nil, ErrSessionExpired
	}

	sessionBus, err := p.sessions.BusID(ctx, sample.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session bus lookup failed: %w", err)
	}
	if sessionBus != sample.BusID {
		return nil, ErrBusMismatch
	}

	if err := p.sessions.PersistLocation(ctx, sample); err != nil {
		return nil, fmt.Errorf("location persistence failed: %w", err)
	}

	// Consumers get the projected payload, never the raw sample: the
	// session id stays between the tracker and the server.
	broadcast := LocationBroadcast{
		BusID:     sample.BusID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Accuracy:  sample.Accuracy,
		Timestamp: sample.Timestamp,
	}
	delivered := p.registry.BroadcastToConsumers(sample.BusID, EventLocationUpdated, broadcast)
	p.registry.Touch(sample.BusID)

	if p.feed != nil {
		p.feed.Publish(ctx, EventLocationUpdated.String(), sample)
	}

	slog.Debug("Location update processed",
		"busID", sample.BusID, "connID", conn.ID, "delivered", delivered)

	return &LocationUpdateAck{
		BusID:           sample.BusID,
		Timestamp:       sample.Timestamp,
		ServerTimestamp: p.now().UnixMilli(),
		Processed:       true,
	}, nil
}

// validate rejects on the first failing field, without aggregation.
func (p *Pipeline) validate(sample models.LocationSample) error {
	if sample.BusID == "" || !ValidBusID(sample.BusID) {
		return newValidationError("busId", "must name a bus in the fleet")
	}
	if sample.SessionID == "" {
		return newValidationError("sessionId", "is required")
	}
	if sample.Latitude < -90 || sample.Latitude > 90 {
		return newValidationError("latitude", "must be between -90 and 90")
	}
	if sample.Longitude < -180 || sample.Longitude > 180 {
		return newValidationError("longitude", "must be between -180 and 180")
	}
	if sample.Accuracy < 0 || sample.Accuracy > 100 {
		return newValidationError("accuracy", "must be between 0 and 100")
	}
	if sample.Timestamp <= 0 {
		return newValidationError("timestamp", "must be positive")
	}

	age := p.now().Sub(time.UnixMilli(sample.Timestamp))
	if age > p.staleCutoff {
		return newValidationError("timestamp", "sample is too old")
	}
	return nil
}
