package catalog

import (
	"strings"
	"sync"
)

// Registry hands out one Client per server URL so connection pools are
// shared across tool calls. It replaces ambient per-process caches with an
// object that is constructed, passed to the components that need it, and
// closed when the process shuts down.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	opts    []Option
}

// NewRegistry creates an empty registry. opts apply to every client it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		clients: map[string]*Client{},
		opts:    opts,
	}
}

// Client returns the client for serverURL, creating it on first use.
func (r *Registry) Client(serverURL string) *Client {
	key := strings.TrimRight(serverURL, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c
	}

	c := NewClient(key, r.opts...)
	r.clients[key] = c

	return c
}

// Servers lists the server URLs with a live client.
func (r *Registry) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.clients))
	for key := range r.clients {
		out = append(out, key)
	}

	return out
}

// Close releases idle connections held by every client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		c.httpClient.CloseIdleConnections()
	}

	r.clients = map[string]*Client{}
}
