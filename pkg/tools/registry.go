package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jbdamask/mcpchat/pkg/mcp"
)

var (
	// ErrUnknownCapability is returned when a qualified name does not
	// resolve to a registered backend and capability.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrDuplicateBackend is returned when a backend id is registered twice.
	ErrDuplicateBackend = errors.New("backend already registered")

	// ErrDuplicateCapability is returned when registering a backend would
	// introduce a qualified name that is already in the catalog.
	ErrDuplicateCapability = errors.New("duplicate capability")
)

// Connection is a live channel to one tool backend. *mcp.Client
// implements it.
type Connection interface {
	ListCapabilities(ctx context.Context) ([]mcp.Capability, error)
	Invoke(ctx context.Context, name string, arguments json.RawMessage) (*mcp.Result, error)
	Close() error
}

type backend struct {
	conn         Connection
	capabilities map[string]mcp.Capability
}

// Registry aggregates the capabilities of every registered backend into
// one catalog keyed by qualified name. It is safe for concurrent use;
// several conversations may share one registry.
type Registry struct {
	mu          sync.RWMutex
	backends    map[string]*backend
	unavailable map[string]error
}

func NewRegistry() *Registry {
	return &Registry{
		backends:    make(map[string]*backend),
		unavailable: make(map[string]error),
	}
}

// Register lists the connection's capabilities and adds them to the
// catalog. Nothing is added if the id is taken or any qualified name
// collides with one already registered.
func (r *Registry) Register(ctx context.Context, id string, conn Connection) error {
	if err := mcp.ValidateServerID(id); err != nil {
		return err
	}

	listed, err := conn.ListCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list capabilities of %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, id)
	}

	b := &backend{conn: conn, capabilities: make(map[string]mcp.Capability, len(listed))}
	for _, c := range listed {
		c.Backend = id
		if _, dup := b.capabilities[c.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCapability, c.QualifiedName())
		}
		b.capabilities[c.Name] = c
	}

	r.backends[id] = b
	delete(r.unavailable, id)
	return nil
}

// MarkUnavailable records a backend that could not be connected so it
// shows up in Backends.
func (r *Registry) MarkUnavailable(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; !exists {
		r.unavailable[id] = err
	}
}

// Unregister removes a backend and closes its connection.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	b, ok := r.backends[id]
	delete(r.backends, id)
	delete(r.unavailable, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("backend %q not registered", id)
	}
	return b.conn.Close()
}

// AllCapabilities returns the catalog sorted by qualified name.
func (r *Registry) AllCapabilities() []mcp.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []mcp.Capability
	for _, b := range r.backends {
		for _, c := range b.capabilities {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].QualifiedName() < all[j].QualifiedName()
	})
	return all
}

// Resolve splits a qualified name on the first separator and checks that
// both the backend and the capability exist.
func (r *Registry) Resolve(qualified string) (backendID, name string, err error) {
	backendID, name, ok := mcp.SplitQualifiedName(qualified)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCapability, qualified)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[backendID]
	if !ok {
		return "", "", fmt.Errorf("%w: %q (no backend %q)", ErrUnknownCapability, qualified, backendID)
	}
	if _, ok := b.capabilities[name]; !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCapability, qualified)
	}
	return backendID, name, nil
}

// Invoke resolves the qualified name and calls the owning backend.
func (r *Registry) Invoke(ctx context.Context, qualified string, arguments json.RawMessage) (*mcp.Result, error) {
	backendID, name, err := r.Resolve(qualified)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	b, ok := r.backends[backendID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, qualified)
	}

	return b.conn.Invoke(ctx, name, arguments)
}

// BackendStatus describes one configured backend.
type BackendStatus struct {
	ID           string
	Connected    bool
	Capabilities int
	Err          error
}

// Backends lists registered and unavailable backends sorted by id.
func (r *Registry) Backends() []BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]BackendStatus, 0, len(r.backends)+len(r.unavailable))
	for id, b := range r.backends {
		statuses = append(statuses, BackendStatus{ID: id, Connected: true, Capabilities: len(b.capabilities)})
	}
	for id, err := range r.unavailable {
		statuses = append(statuses, BackendStatus{ID: id, Err: err})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Close closes every registered connection and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	backends := r.backends
	r.backends = make(map[string]*backend)
	r.unavailable = make(map[string]error)
	r.mu.Unlock()

	var errs []error
	for id, b := range backends {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Describe renders the catalog as a short listing, one capability per line.
func Describe(capabilities []mcp.Capability) string {
	var sb strings.Builder
	for _, c := range capabilities {
		sb.WriteString(c.QualifiedName())
		if c.Description != "" {
			sb.WriteString(" - ")
			sb.WriteString(firstLine(c.Description))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
