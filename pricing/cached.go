package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/hotel-core/cache"
	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// CACHED QUOTER - Read-through cache in front of BestRate/AllRates
// =============================================================================

// CachedQuoter keys every quote on two generation counters, one per hotel
// and one per (hotel, roomType). Bumping a counter orphans every key built
// on the old value; orphans age out with the TTL.
//
//	gen:{hotel}          seasons, special periods, plans
//	gen:{hotel}:{rt}     availability rows, overrides
type CachedQuoter struct {
	Engine *Engine
	Cache  cache.Cache
	TTLSec int
	Log    zerolog.Logger
}

// NewCachedQuoter subscribes to plan and override writes of engine.
// Inventory and season hooks are registered by the caller with
// OnInventoryChange and OnSeasonChange.
func NewCachedQuoter(engine *Engine, c cache.Cache, ttlSec int) *CachedQuoter {
	q := &CachedQuoter{Engine: engine, Cache: c, TTLSec: ttlSec, Log: zerolog.Nop()}
	engine.OnChange(func(hotel core.HotelID, rt core.RoomTypeID) {
		if rt == "" {
			q.OnSeasonChange(hotel)
			return
		}
		q.bump(hotelRoomGenKey(hotel, rt))
	})
	return q
}

func hotelGenKey(hotel core.HotelID) string { return "gen:" + string(hotel) }

func hotelRoomGenKey(hotel core.HotelID, rt core.RoomTypeID) string {
	return "gen:" + string(hotel) + ":" + string(rt)
}

// OnInventoryChange matches inventory.ChangeFunc.
func (q *CachedQuoter) OnInventoryChange(hotel core.HotelID, rt core.RoomTypeID, _ []calendar.Date) {
	q.bump(hotelRoomGenKey(hotel, rt))
}

// OnSeasonChange matches season.ChangeFunc.
func (q *CachedQuoter) OnSeasonChange(hotel core.HotelID) {
	q.bump(hotelGenKey(hotel))
}

func (q *CachedQuoter) bump(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := q.Cache.Incr(ctx, key); err != nil {
		q.Log.Warn().Err(err).Str("key", key).Msg("quote cache invalidation failed")
	}
}

func (q *CachedQuoter) generation(ctx context.Context, key string) int64 {
	var gen int64
	if _, err := q.Cache.Get(ctx, key, &gen); err != nil {
		q.Log.Debug().Err(err).Str("key", key).Msg("reading cache generation")
	}
	return gen
}

func (q *CachedQuoter) store(ctx context.Context, key string, v any) {
	if err := q.Cache.Set(ctx, key, v, q.TTLSec); err != nil {
		q.Log.Debug().Err(err).Str("key", key).Msg("writing quote to cache")
	}
}

func (q *CachedQuoter) key(ctx context.Context, kind string, req QuoteRequest) string {
	return fmt.Sprintf("quote:%s:%s:%d:%s:%d:%s:%s:%d:%d:%s:%s:%d",
		kind,
		req.HotelID, q.generation(ctx, hotelGenKey(req.HotelID)),
		req.RoomTypeID, q.generation(ctx, hotelRoomGenKey(req.HotelID, req.RoomTypeID)),
		req.CheckIn, req.CheckOut, req.Guests, req.Rooms,
		strings.ToUpper(req.PromoCode), req.PlanID,
		req.BookedAt.Truncate(time.Hour).Unix(),
	)
}

func (q *CachedQuoter) withBookedAt(req QuoteRequest) QuoteRequest {
	if req.BookedAt.IsZero() {
		req.BookedAt = q.Engine.Clock.Now()
	}
	return req
}

// BestRate serves from cache or computes and stores the quote. Errors are
// never cached.
func (q *CachedQuoter) BestRate(ctx context.Context, req QuoteRequest) (Quote, error) {
	req = q.withBookedAt(req)
	key := q.key(ctx, "best", req)
	var out Quote
	if ok, _ := q.Cache.Get(ctx, key, &out); ok {
		return out, nil
	}
	out, err := q.Engine.BestRate(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	q.store(ctx, key, out)
	return out, nil
}

func (q *CachedQuoter) AllRates(ctx context.Context, req QuoteRequest) (RateList, error) {
	req = q.withBookedAt(req)
	key := q.key(ctx, "all", req)
	var out RateList
	if ok, _ := q.Cache.Get(ctx, key, &out); ok {
		return out, nil
	}
	out, err := q.Engine.AllRates(ctx, req)
	if err != nil {
		return RateList{}, err
	}
	q.store(ctx, key, out)
	return out, nil
}
