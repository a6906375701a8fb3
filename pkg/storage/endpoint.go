package storage

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/cuemby/kvmigrate/pkg/types"
)

// DefaultRedisPort is used when an endpoint names a host without a port
const DefaultRedisPort = "6379"

// Endpoint kinds
const (
	SchemeRedis = "redis"
	SchemeBolt  = "bolt"
)

// Endpoint describes where a source or target store lives
type Endpoint struct {
	Scheme string
	Redis  RedisOptions
	Path   string // bolt snapshot file
}

// ParseEndpoint accepts "host", "host:port", "redis://[user:pass@]host[:port]"
// or "bolt:///path/to/file.db". Connection settings in defaults fill in what
// the endpoint string does not carry.
func ParseEndpoint(raw string, defaults RedisOptions) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	if !strings.Contains(raw, "://") {
		opts := defaults
		opts.Addr = withDefaultPort(raw)
		return &Endpoint{Scheme: SchemeRedis, Redis: opts}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}

	switch u.Scheme {
	case SchemeRedis:
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint %q has no host", raw)
		}
		opts := defaults
		opts.Addr = withDefaultPort(u.Host)
		if u.User != nil {
			opts.Username = u.User.Username()
			if pw, ok := u.User.Password(); ok {
				opts.Password = pw
			}
		}
		return &Endpoint{Scheme: SchemeRedis, Redis: opts}, nil
	case SchemeBolt:
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("endpoint %q has no file path", raw)
		}
		return &Endpoint{Scheme: SchemeBolt, Path: path}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Open returns a Store for one logical database on this endpoint
func (e *Endpoint) Open(db types.LogicalDatabase) (Store, error) {
	switch e.Scheme {
	case SchemeRedis:
		return NewRedisStore(e.Redis, db), nil
	case SchemeBolt:
		return NewBoltStore(e.Path, db)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, e.Scheme)
	}
}

// String renders the endpoint without credentials, for logs
func (e *Endpoint) String() string {
	if e.Scheme == SchemeBolt {
		return "bolt://" + e.Path
	}
	return "redis://" + e.Redis.Addr
}

func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), DefaultRedisPort)
}
