package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/livemap/internal/models"
)

// RedisStore implements LocationStore on Redis so several server instances
// (and the Kafka consumer) can share the location table. Samples live in a
// per-member hash keyed off a membership set rather than a GEO set: GEOADD
// clips latitude at the web-mercator limit of 85.05112878 and would reject
// coordinates that are valid here.
type RedisStore struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, prefix: prefix, ctx: context.Background()}
}

func (r *RedisStore) Update(groupID, memberID string, loc models.Coordinate, capturedAt time.Time) error {
	if !loc.Valid() {
		return fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidCoordinate, loc.Lat, loc.Lng)
	}
	if err := r.client.SAdd(r.ctx, r.membersKey(groupID), memberID).Err(); err != nil {
		return err
	}
	return r.client.HSet(r.ctx, r.metaKey(groupID, memberID), map[string]interface{}{
		"lat":         strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lng":         strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		"captured_at": capturedAt.Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisStore) Snapshot(groupID string) []models.LocationSample {
	ids, err := r.client.SMembers(r.ctx, r.membersKey(groupID)).Result()
	if err != nil {
		return nil
	}
	out := make([]models.LocationSample, 0, len(ids))
	for _, id := range ids {
		m, err := r.client.HGetAll(r.ctx, r.metaKey(groupID, id)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		lat, err1 := strconv.ParseFloat(m["lat"], 64)
		lng, err2 := strconv.ParseFloat(m["lng"], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		s := models.LocationSample{MemberID: id, Loc: models.Coordinate{Lat: lat, Lng: lng}}
		if ts, err := time.Parse(time.RFC3339Nano, m["captured_at"]); err == nil {
			s.CapturedAt = ts
		}
		out = append(out, s)
	}
	return out
}

func (r *RedisStore) Remove(groupID, memberID string) {
	_ = r.client.SRem(r.ctx, r.membersKey(groupID), memberID).Err()
	_ = r.client.Del(r.ctx, r.metaKey(groupID, memberID)).Err()
}

func (r *RedisStore) membersKey(groupID string) string {
	return r.prefix + ":members:" + groupID
}

func (r *RedisStore) metaKey(groupID, memberID string) string {
	return r.prefix + ":meta:" + groupID + ":" + memberID
}
