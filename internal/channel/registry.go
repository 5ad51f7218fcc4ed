package channel

import (
	"fmt"
	"sync"
)

// Registry holds all registered channel adapters keyed by platform. It must be
// created via NewRegistry and passed explicitly to the components that need
// it; there is no global registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Platform]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[Platform]Adapter{}}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	platform := ParsePlatform(adapter.Platform().String())
	if platform == "" {
		return fmt.Errorf("platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[platform]; exists {
		return fmt.Errorf("platform already registered: %s", platform)
	}
	r.adapters[platform] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given platform.
func (r *Registry) Get(platform Platform) (Adapter, bool) {
	key := ParsePlatform(platform.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[key]
	return adapter, ok
}

// Platforms returns all registered platforms.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Platform, 0, len(r.adapters))
	for p := range r.adapters {
		items = append(items, p)
	}
	return items
}

// GetHandshakeVerifier returns the HandshakeVerifier for the platform, or
// false when the platform has no GET handshake.
func (r *Registry) GetHandshakeVerifier(platform Platform) (HandshakeVerifier, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	verifier, ok := adapter.(HandshakeVerifier)
	return verifier, ok
}

// GetTypingNotifier returns the TypingNotifier for the platform, or false
// when unsupported.
func (r *Registry) GetTypingNotifier(platform Platform) (TypingNotifier, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	notifier, ok := adapter.(TypingNotifier)
	return notifier, ok
}

// GetTemplateSender returns the TemplateSender for the platform, or false
// when unsupported.
func (r *Registry) GetTemplateSender(platform Platform) (TemplateSender, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	sender, ok := adapter.(TemplateSender)
	return sender, ok
}

// GetCredentialProber returns the CredentialProber for the platform, or false
// when unsupported.
func (r *Registry) GetCredentialProber(platform Platform) (CredentialProber, bool) {
	adapter, ok := r.Get(platform)
	if !ok {
		return nil, false
	}
	prober, ok := adapter.(CredentialProber)
	return prober, ok
}
