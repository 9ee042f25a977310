package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/food-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands, with courier metadata
// (rating, active flag, delivery tally) in a companion hash.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(c models.Courier) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: c.Loc.Lon, Latitude: c.Loc.Lat, Name: c.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(c.ID), map[string]interface{}{
		"rating":     fmt.Sprintf("%f", c.Rating),
		"active":     strconv.FormatBool(c.Active),
		"bike_plate": c.BikePlate,
		"updated":    time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) BumpDeliveries(id string) {
	_ = r.client.HIncrBy(r.ctx, metaKey(id), "total_deliveries", 1).Err()
}

// ActiveCount counts the distinct couriers in the geo set. The GEO commands
// store members in a sorted set, so ZCard is the member count.
func (r *RedisGeo) ActiveCount() int {
	n, err := r.client.ZCard(r.ctx, r.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []models.Courier {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Courier, 0, len(res))
	for _, g := range res {
		c := models.Courier{ID: g.Name}
		c.Loc.Lat = g.Latitude
		c.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					c.Rating = f
				}
			}
			if v, ok := m["active"]; ok {
				c.Active = (v == "true")
			}
			if v, ok := m["total_deliveries"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					c.TotalDeliveries = n
				}
			}
			c.BikePlate = m["bike_plate"]
		}
		out = append(out, c)
	}
	return out
}

func metaKey(id string) string { return "courier:meta:" + id }
