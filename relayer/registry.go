package relayer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

const DefaultInfoTimeout = 5 * time.Second

// Registry holds the capabilities of every relayer that answered at build
// time. Construct one with BuildRegistry and pass it around; there is no
// shared instance.
type Registry struct {
	client  *Client
	resolve ChainNameResolver
	bridges BridgeResolver
	timeout time.Duration

	mu        sync.Mutex
	endpoints []Endpoint
	entries   map[string]Capabilities
	order     []string
	rng       *rand.Rand
}

type Option func(*Registry)

func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

func WithClient(c *Client) Option {
	return func(r *Registry) { r.client = c }
}

func WithBridgeResolver(b BridgeResolver) Option {
	return func(r *Registry) { r.bridges = b }
}

// WithRand fixes the source used to shuffle query results.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

// BuildRegistry fetches every endpoint's info document concurrently. Each
// fetch has its own timeout; endpoints that fail or time out are dropped.
func BuildRegistry(ctx context.Context, endpoints []Endpoint, resolve ChainNameResolver, opts ...Option) *Registry {
	r := &Registry{
		client:    NewClient(nil),
		resolve:   resolve,
		timeout:   DefaultInfoTimeout,
		endpoints: endpoints,
		entries:   make(map[string]Capabilities),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	results := make([]*Capabilities, len(endpoints))
	fetches := new(errgroup.Group)
	for i, ep := range endpoints {
		fetches.Go(func() error {
			caps, err := r.fetch(ctx, ep)
			if err != nil {
				// an unavailable relayer is dropped, not fatal
				log.Debug("relayer unavailable", "endpoint", ep.URL, "err", err)
				return nil
			}
			results[i] = caps
			return nil
		})
	}
	_ = fetches.Wait()

	for _, caps := range results {
		if caps == nil {
			continue
		}
		if _, dup := r.entries[caps.Endpoint]; !dup {
			r.order = append(r.order, caps.Endpoint)
		}
		r.entries[caps.Endpoint] = *caps
	}
	log.Info("relayer registry built", "configured", len(endpoints), "available", len(r.order))
	return r
}

func (r *Registry) fetch(ctx context.Context, ep Endpoint) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	doc, err := r.client.Info(ctx, strings.TrimRight(ep.URL, "/"))
	if err != nil {
		return nil, err
	}
	caps := capabilitiesFromDocument(ep, doc, r.resolve)
	return &caps, nil
}

// Refresh re-fetches one configured endpoint and replaces its entry whole.
// A failed refresh leaves the previous entry in place.
func (r *Registry) Refresh(ctx context.Context, endpoint string) error {
	var ep *Endpoint
	for i := range r.endpoints {
		if r.endpoints[i].URL == endpoint {
			ep = &r.endpoints[i]
			break
		}
	}
	if ep == nil {
		return fmt.Errorf("relayer: unknown endpoint %s", endpoint)
	}
	caps, err := r.fetch(ctx, *ep)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[caps.Endpoint]; !ok {
		r.order = append(r.order, caps.Endpoint)
	}
	r.entries[caps.Endpoint] = *caps
	return nil
}

// All returns every known relayer in discovery order.
func (r *Registry) All() []Capabilities {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Capabilities, 0, len(r.order))
	for _, ep := range r.order {
		out = append(out, r.entries[ep])
	}
	return out
}

func (r *Registry) Get(endpoint string) (Capabilities, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	caps, ok := r.entries[endpoint]
	return caps, ok
}

func (r *Registry) Client() *Client { return r.client }
