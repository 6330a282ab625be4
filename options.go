package corekv

import (
	"errors"
	"time"

	"github.com/kvengine/corekv/stats"
)

// CacheStat is the teacher-shaped snapshot every LoadingCache reports,
// re-exported from package stats so callers never need to import it
// directly for this common case.
type CacheStat = stats.CacheStat

// config accumulates the options below before a concrete cache is built.
// Every Option validates eagerly, matching the teacher's options.go.
type config struct {
	maxKeys      int
	maxValueSize int
	maxKeySize   int
	maxCacheSize int64
	ttl          time.Duration
}

// Option configures a cache built by this package's constructors.
type Option func(c *config) error

// MaxValSize defines the value size (via Sizer) at or above which a value
// is not cached, 0 meaning unlimited.
func MaxValSize(max int) Option {
	return func(c *config) error {
		if max < 0 {
			return errors.New("negative max value size")
		}
		c.maxValueSize = max
		return nil
	}
}

// MaxKeySize defines the largest key allowed to be cached, 0 meaning
// unlimited.
func MaxKeySize(max int) Option {
	return func(c *config) error {
		if max < 0 {
			return errors.New("negative max key size")
		}
		c.maxKeySize = max
		return nil
	}
}

// MaxKeys defines how many keys to keep, 0 meaning unlimited.
func MaxKeys(max int) Option {
	return func(c *config) error {
		if max < 0 {
			return errors.New("negative max keys")
		}
		c.maxKeys = max
		return nil
	}
}

// MaxCacheSize defines the total Sizer-reported byte size of cached data,
// 0 meaning unlimited.
func MaxCacheSize(max int64) Option {
	return func(c *config) error {
		if max < 0 {
			return errors.New("negative max cache size")
		}
		c.maxCacheSize = max
		return nil
	}
}

// TTL sets the default per-entry expiry; 0 means entries never expire.
func TTL(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return errors.New("negative ttl")
		}
		c.ttl = d
		return nil
	}
}

func newConfig(opts []Option) (config, error) {
	c := config{maxKeys: 1000}
	for _, o := range opts {
		if err := o(&c); err != nil {
			return c, err
		}
	}
	return c, nil
}
