package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// Registry holds one API client per credential and the publishers built on them.
type Registry struct {
	mu         sync.Mutex
	clients    map[string]*Client
	publishers map[string]Publisher
	opts       PublisherOptions
}

// NewRegistry creates a Registry over clients keyed by credential id.
func NewRegistry(clients map[string]*Client, opts PublisherOptions) *Registry {
	return &Registry{
		clients:    clients,
		publishers: make(map[string]Publisher),
		opts:       opts.withDefaults(),
	}
}

// NewRegistryFromConfig builds a client for every configured credential.
func NewRegistryFromConfig(cfg shared.PoolConfig, opts PublisherOptions, clientOpts ...ClientOption) (*Registry, error) {
	clients := make(map[string]*Client, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		client, err := NewClient(cfg.APIURL, c.Key, append([]ClientOption{WithRateLimit(cfg.RequestsPerSecond)}, clientOpts...)...)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", c.ID, err)
		}
		clients[c.ID] = client
	}
	return NewRegistry(clients, opts), nil
}

// IDs returns the credential ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Client returns the API client for a credential.
func (r *Registry) Client(credentialID string) (*Client, error) {
	c, ok := r.clients[credentialID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, credentialID)
	}
	return c, nil
}

// Publisher returns the publisher for a credential and platform, creating it on first use.
func (r *Registry) Publisher(credentialID string, platform models.Platform) (Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := credentialID + "/" + string(platform)
	if p, ok := r.publishers[key]; ok {
		return p, nil
	}

	client, err := r.Client(credentialID)
	if err != nil {
		return nil, err
	}
	opts := r.opts
	opts.Logger = opts.Logger.With("credential", credentialID)

	p, err := NewPublisher(platform, client, opts)
	if err != nil {
		return nil, err
	}
	r.publishers[key] = p
	return p, nil
}

// Wait blocks until background work started by the registry's publishers has finished.
func (r *Registry) Wait() {
	r.mu.Lock()
	var waiters []interface{ Wait() }
	for _, p := range r.publishers {
		if w, ok := p.(interface{ Wait() }); ok {
			waiters = append(waiters, w)
		}
	}
	r.mu.Unlock()

	for _, w := range waiters {
		w.Wait()
	}
}
