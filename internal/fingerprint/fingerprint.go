// Package fingerprint derives short content digests for deduplicating
// classified inputs, and holds the seen cache mapping a fingerprint to the
// signature it was classified with.
package fingerprint

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shrinkfuzz/internal/types"
)

// Width is the number of hex characters kept from the digest when
// fingerprinting inputs. Truncation is deliberate coarsening: a rare
// collision makes a distinct input look already seen, which only skips one
// reclassification of an advisory corpus.
const Width = 8

// Digest returns the truncated content fingerprint of data.
func Digest(data []byte) string {
	return DigestN(data, Width)
}

// DigestN returns the content digest truncated to n hex characters.
func DigestN(data []byte, n int) string {
	sum := sha1.Sum(data)
	hexSum := hex.EncodeToString(sum[:])
	if n > 0 && n < len(hexSum) {
		return hexSum[:n]
	}
	return hexSum
}

// Name derives the on-disk name for data: the fingerprint joined with the
// original input's basename, so bucket entries stay human-readable.
func Name(data []byte, base string) string {
	return Digest(data) + "-" + base
}

// Cache is the seen set: every fingerprint ever classified, with the
// signature that classification produced. It grows monotonically. When a
// Redis client is configured the table is mirrored into a hash keyed by the
// target command, so later runs against the same target skip inputs this
// run already paid a process invocation for.
//
// The cache is not safe for concurrent use; a single worker drives all
// classification.
type Cache struct {
	local  map[string]types.Signature
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewCache(client *redis.Client, command string, logger *zap.Logger) *Cache {
	return &Cache{
		local:  make(map[string]types.Signature),
		client: client,
		key:    fmt.Sprintf("shrinkfuzz:seen:%s", DigestN([]byte(command), 0)),
		logger: logger,
	}
}

// Lookup reports whether fp has been classified, and with which signature.
func (c *Cache) Lookup(ctx context.Context, fp string) (types.Signature, bool) {
	if sig, ok := c.local[fp]; ok {
		return sig, true
	}
	if c.client == nil {
		return nil, false
	}
	key, err := c.client.HGet(ctx, c.key, fp).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("shared seen set lookup failed", zap.Error(err))
		}
		return nil, false
	}
	sig := types.ParseSignature(key)
	c.local[fp] = sig
	return sig, true
}

// Remember records the classification of fp. Overwriting an existing entry
// is harmless; the signature of a stable input never changes.
func (c *Cache) Remember(ctx context.Context, fp string, sig types.Signature) {
	c.local[fp] = sig
	if c.client == nil {
		return
	}
	if err := c.client.HSet(ctx, c.key, fp, sig.Key()).Err(); err != nil {
		c.logger.Warn("shared seen set update failed", zap.Error(err))
	}
}

// Len returns the number of locally known fingerprints.
func (c *Cache) Len() int {
	return len(c.local)
}
