package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"rastermap/internal/image"
)

// ErrMapNotFound is returned when no registration exists for an id.
var ErrMapNotFound = errors.New("map not found")

// MapStore persists registered maps in the blob store: the verbatim
// expression JSON under maps:<uuid> and the visualization parameters
// under vis_params:<uuid>. Entries have no TTL.
type MapStore struct {
	redis *redis.Client
}

func NewMapStore(client *redis.Client) *MapStore {
	return &MapStore{redis: client}
}

func (s *MapStore) SetMap(ctx context.Context, id string, exprJSON []byte) error {
	if err := s.redis.Set(ctx, "maps:"+id, exprJSON, 0).Err(); err != nil {
		return fmt.Errorf("server: storing map %s: %w", id, err)
	}
	return nil
}

// GetMap returns the verbatim expression JSON registered under id.
func (s *MapStore) GetMap(ctx context.Context, id string) (string, error) {
	body, err := s.redis.Get(ctx, "maps:"+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMapNotFound
	}
	if err != nil {
		return "", fmt.Errorf("server: loading map %s: %w", id, err)
	}
	return body, nil
}

func (s *MapStore) SetVisParams(ctx context.Context, id string, params *image.VisParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("server: encoding vis params: %w", err)
	}
	if err := s.redis.Set(ctx, "vis_params:"+id, body, 0).Err(); err != nil {
		return fmt.Errorf("server: storing vis params %s: %w", id, err)
	}
	return nil
}

// GetVisParams returns the stored parameters, or nil when none were
// registered with the map.
func (s *MapStore) GetVisParams(ctx context.Context, id string) (*image.VisParams, error) {
	body, err := s.redis.Get(ctx, "vis_params:"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("server: loading vis params %s: %w", id, err)
	}
	params := &image.VisParams{}
	if err := json.Unmarshal(body, params); err != nil {
		return nil, fmt.Errorf("server: decoding vis params %s: %w", id, err)
	}
	return params, nil
}
