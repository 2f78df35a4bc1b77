// ============================================================================
// chain/resolver.go - Endpoint probing and client selection
// ============================================================================
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
	"github.com/sirupsen/logrus"
)

// DialFunc opens a client for one endpoint URL.
type DialFunc func(ctx context.Context, url string) (Client, error)

// ResolverConfig holds configuration for Resolve
type ResolverConfig struct {
	URLs              []string
	ProbeTimeout      time.Duration
	CallTimeout       time.Duration
	KeepaliveInterval time.Duration
	PollInterval      time.Duration
	RateLimit         float64
	Faults            chan<- Fault
	OnFailover        func(endpoint, op string)
	Logger            *logrus.Logger

	// Dial overrides the go-ethereum dialer, mainly for tests
	Dial DialFunc
}

// Resolve probes every URL in order with a bounded BlockNumber call.
// Unreachable endpoints are skipped with a warning. It returns
// ErrNoLiveEndpoint when nothing answers, the bare client when exactly one
// does, and a MultiEndpointClient otherwise.
func Resolve(ctx context.Context, cfg ResolverConfig) (Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = constants.DefaultProbeTimeout
	}
	dial := cfg.Dial
	if dial == nil {
		dial = cfg.dialEndpoint
	}

	var live []Endpoint
	for _, url := range cfg.URLs {
		name := Redact(url)
		c, err := probe(ctx, dial, url, cfg.ProbeTimeout)
		if err != nil {
			cfg.Logger.WithError(err).WithField("endpoint", name).Warn("rpc endpoint unreachable, skipping")
			continue
		}
		cfg.Logger.WithField("endpoint", name).Info("rpc endpoint live")
		live = append(live, Endpoint{Name: name, Client: c, Socket: IsSocket(url)})
	}

	switch len(live) {
	case 0:
		return nil, fmt.Errorf("%w: probed %d endpoints", ErrNoLiveEndpoint, len(cfg.URLs))
	case 1:
		return live[0].Client, nil
	default:
		cfg.Logger.WithField("endpoints", len(live)).Info("using multi-endpoint failover")
		return NewMultiEndpointClient(live, MultiConfig{
			PollInterval: cfg.PollInterval,
			OnFailover:   cfg.OnFailover,
			Logger:       cfg.Logger,
		}), nil
	}
}

func probe(ctx context.Context, dial DialFunc, url string, timeout time.Duration) (Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := c.BlockNumber(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("probe block number: %w", err)
	}
	return c, nil
}

func (cfg ResolverConfig) dialEndpoint(ctx context.Context, url string) (Client, error) {
	return Dial(ctx, EndpointConfig{
		URL:               url,
		CallTimeout:       cfg.CallTimeout,
		RateLimit:         cfg.RateLimit,
		KeepaliveInterval: cfg.KeepaliveInterval,
		PollInterval:      cfg.PollInterval,
		Faults:            cfg.Faults,
		Logger:            cfg.Logger,
	})
}
