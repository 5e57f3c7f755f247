// Package codestore keeps short-lived, single-use authorization codes in
// an expiring key-value cache.
package codestore

import (
	"context"
	"time"

	oerrors "github.com/alexjbarnes/oauthd/internal/errors"
)

// ErrCacheMiss is returned by GetDel when the key is absent or expired.
var ErrCacheMiss = oerrors.ErrCacheMiss

// Cache is the expiring key-value store behind the code store. GetDel
// must fetch and delete in one atomic operation so that two concurrent
// callers cannot both receive the value.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetDel(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}
