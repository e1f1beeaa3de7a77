package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"venuebook/internal/models"
)

// CachedGateway layers a Redis read cache for venue calendars over a
// Gateway. Calendars are read on every admission attempt and change
// rarely, so they cache well; bookings are never cached because the
// admission pipeline needs a consistent snapshot from the store itself.
type CachedGateway struct {
	Gateway
	redis  *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewCachedGateway wraps inner with a calendar cache. A zero or negative
// ttl disables caching.
func NewCachedGateway(inner Gateway, rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) *CachedGateway {
	return &CachedGateway{Gateway: inner, redis: rdb, ttl: ttl, logger: logger}
}

func calendarKey(venueID string) string {
	return fmt.Sprintf("venuebook:calendar:%s", venueID)
}

// GetVenueCalendar serves from cache when possible, falling back to the
// inner gateway. Cache failures never fail the read.
func (c *CachedGateway) GetVenueCalendar(ctx context.Context, venueID string) (*models.VenueCalendar, error) {
	if c.redis == nil || c.ttl <= 0 {
		return c.Gateway.GetVenueCalendar(ctx, venueID)
	}

	key := calendarKey(venueID)
	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var cal models.VenueCalendar
		if err := json.Unmarshal(data, &cal); err == nil {
			return &cal, nil
		}
		// Corrupt entry; drop it and fall through to the store.
		c.redis.Del(ctx, key)
	}

	cal, err := c.Gateway.GetVenueCalendar(ctx, venueID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cal); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Warn().Err(err).Str("venue_id", venueID).Msg("calendar cache write failed")
		}
	}
	return cal, nil
}

// InvalidateCalendar drops the cached calendar for a venue. Call after
// any calendar write.
func (c *CachedGateway) InvalidateCalendar(ctx context.Context, venueID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, calendarKey(venueID)).Err(); err != nil && c.logger != nil {
		c.logger.Warn().Err(err).Str("venue_id", venueID).Msg("calendar cache invalidation failed")
	}
}
