package corekv

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// New parses uri and builds the LoadingCache it names.
//
// Supported URIs:
//   - local://lru?max_keys=10&max_cache_size=1024
//   - local://?ttl=30s&max_val_size=100     (max_keys default 1000)
//   - near://<redis-host>:<port>/<namespace>?ttl=30s&max_keys=10000
//   - nop://
func New(uri string) (LoadingCache, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cache uri %s", uri)
	}

	opts, err := optionsFromQuery(u.Query())
	if err != nil {
		return nil, errors.Wrapf(err, "parse uri options %s", uri)
	}

	switch u.Scheme {
	case "local":
		return NewCache(opts...)
	case "near":
		namespace := strings.TrimPrefix(u.Path, "/")
		if namespace == "" {
			namespace = "corekv"
		}
		return NewDistributedCache(u.Host, namespace, opts...)
	case "nop":
		return NewNopCache(), nil
	}
	return nil, errors.Errorf("unsupported cache type %s", u.Scheme)
}

func optionsFromQuery(q url.Values) (opts []Option, err error) {
	errs := new(multierror.Error)

	if v := q.Get("max_val_size"); v != "" {
		vv, e := strconv.Atoi(v)
		if e != nil {
			errs = multierror.Append(errs, errors.Wrapf(e, "max_val_size query param %s", v))
		} else {
			opts = append(opts, MaxValSize(vv))
		}
	}

	if v := q.Get("max_key_size"); v != "" {
		vv, e := strconv.Atoi(v)
		if e != nil {
			errs = multierror.Append(errs, errors.Wrapf(e, "max_key_size query param %s", v))
		} else {
			opts = append(opts, MaxKeySize(vv))
		}
	}

	if v := q.Get("max_keys"); v != "" {
		vv, e := strconv.Atoi(v)
		if e != nil {
			errs = multierror.Append(errs, errors.Wrapf(e, "max_keys query param %s", v))
		} else {
			opts = append(opts, MaxKeys(vv))
		}
	}

	if v := q.Get("max_cache_size"); v != "" {
		vv, e := strconv.ParseInt(v, 10, 64)
		if e != nil {
			errs = multierror.Append(errs, errors.Wrapf(e, "max_cache_size query param %s", v))
		} else {
			opts = append(opts, MaxCacheSize(vv))
		}
	}

	if v := q.Get("ttl"); v != "" {
		vv, e := time.ParseDuration(v)
		if e != nil {
			errs = multierror.Append(errs, errors.Wrapf(e, "ttl query param %s", v))
		} else {
			opts = append(opts, TTL(vv))
		}
	}

	return opts, errs.ErrorOrNil()
}
