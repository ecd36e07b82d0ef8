package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]func(ProviderEntry) (stt.Provider, error)
	face map[string]func(ProviderEntry) (face.Detector, error)
	pose map[string]func(ProviderEntry) (pose.Estimator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:  make(map[string]func(ProviderEntry) (stt.Provider, error)),
		face: make(map[string]func(ProviderEntry) (face.Detector, error)),
		pose: make(map[string]func(ProviderEntry) (pose.Estimator, error)),
	}
}

// RegisterSTT registers a speech-to-text provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(&r.mu, r.stt, name, factory)
}

// RegisterFace registers a face detector factory under name.
func (r *Registry) RegisterFace(name string, factory func(ProviderEntry) (face.Detector, error)) {
	register(&r.mu, r.face, name, factory)
}

// RegisterPose registers a pose estimator factory under name.
func (r *Registry) RegisterPose(name string, factory func(ProviderEntry) (pose.Estimator, error)) {
	register(&r.mu, r.pose, name, factory)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, r.stt, "stt", entry)
}

// CreateFace instantiates a face detector using the factory registered under entry.Name.
func (r *Registry) CreateFace(entry ProviderEntry) (face.Detector, error) {
	return create(&r.mu, r.face, "face", entry)
}

// CreatePose instantiates a pose estimator using the factory registered under entry.Name.
func (r *Registry) CreatePose(entry ProviderEntry) (pose.Estimator, error) {
	return create(&r.mu, r.pose, "pose", entry)
}

func register[T any](mu *sync.RWMutex, m map[string]func(ProviderEntry) (T, error), name string, factory func(ProviderEntry) (T, error)) {
	mu.Lock()
	defer mu.Unlock()
	m[name] = factory
}

func create[T any](mu *sync.RWMutex, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
