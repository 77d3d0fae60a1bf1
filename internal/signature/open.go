package signature

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	KindFile  = "file"
	KindRedis = "redis"
)

// Open returns the calibration store named by kind for device, and a
// function that releases it.
func Open(ctx context.Context, kind, dir, redisURL, device string) (Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindFile:
		return NewFileStore(dir, device), func() {}, nil
	case KindRedis:
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, err := NewRedisStore(rctx, redisURL, device)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown calibration store %q", kind)
	}
}
