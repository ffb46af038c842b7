package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/models"
)

const agentGeoKey = "agents:geo"

func agentKey(agentID string) string { return "agent:" + agentID }

// UpdateLocation records the agent's last-known position in the GEO set and
// refreshes its hash. A location report implies the agent is online.
func (s *Redis) UpdateLocation(ctx context.Context, agentID string, lon, lat float64) error {
	pipe := s.rdb.TxPipeline()
	pipe.GeoAdd(ctx, agentGeoKey, &redis.GeoLocation{
		Name:      agentID,
		Longitude: lon,
		Latitude:  lat,
	})
	pipe.HSet(ctx, agentKey(agentID), map[string]interface{}{
		"is_online":   "true",
		"last_update": time.Now().Unix(),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Redis) SetOnline(ctx context.Context, agentID string, online bool) error {
	v := "false"
	if online {
		v = "true"
	}
	return s.rdb.HSet(ctx, agentKey(agentID), map[string]interface{}{
		"is_online":   v,
		"last_update": time.Now().Unix(),
	}).Err()
}

func (s *Redis) GetLocation(ctx context.Context, agentID string) (*models.AgentLocation, error) {
	pos, err := s.rdb.GeoPos(ctx, agentGeoKey, agentID).Result()
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return nil, nil
	}
	return &models.AgentLocation{
		AgentID:   agentID,
		Longitude: pos[0].Longitude,
		Latitude:  pos[0].Latitude,
	}, nil
}

func (s *Redis) QueryNear(ctx context.Context, lon, lat, radiusMeters float64) ([]models.AgentLocation, error) {
	locs, err := s.rdb.GeoSearchLocation(ctx, agentGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	online := make([]*redis.StringCmd, len(locs))
	for i, loc := range locs {
		online[i] = pipe.HGet(ctx, agentKey(loc.Name), "is_online")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	var out []models.AgentLocation
	for i, loc := range locs {
		if online[i].Val() != "true" {
			continue
		}
		out = append(out, models.AgentLocation{
			AgentID:   loc.Name,
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		})
	}
	return out, nil
}
