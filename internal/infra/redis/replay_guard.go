package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
)

// ReplayGuard deduplicates webhook deliveries. Providers retry on anything
// but a clean acknowledgement, so the same body can arrive many times; the
// guard claims a digest of the body with SetNX and a TTL, and replays within
// the window are acknowledged without re-processing.
//
// The underlying conditional status update is the real idempotency barrier;
// the guard only short-circuits obvious duplicates before they reach it.
type ReplayGuard struct {
	cli *Client
	ttl time.Duration
	log *zerolog.Logger
}

func NewReplayGuard(cli *Client, ttl time.Duration, log *zerolog.Logger) *ReplayGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ReplayGuard{cli: cli, ttl: ttl, log: log}
}

// FirstDelivery reports whether this body has not been seen within the TTL.
// Redis failures report true: dropping a webhook is worse than re-running an
// idempotent update.
func (g *ReplayGuard) FirstDelivery(ctx context.Context, provider string, body []byte) bool {
	if g == nil || g.cli == nil {
		return true
	}
	sum := sha256.Sum256(body)
	key := "wh:" + provider + ":" + hex.EncodeToString(sum[:])
	ok, err := g.cli.SetNX(ctx, key, 1, g.ttl)
	if err != nil {
		g.log.Warn().Err(err).Str("provider", provider).Msg("replay guard unavailable; processing anyway")
		return true
	}
	return ok
}
