package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxact/pkg/audio"
	"github.com/MrWong99/voxact/pkg/provider/llm"
	"github.com/MrWong99/voxact/pkg/provider/stt"
	"github.com/MrWong99/voxact/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories holds the constructors for one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         factories[llm.Provider]
	transcriber factories[stt.Transcriber]
	stt         factories[stt.Provider]
	vad         factories[vad.Engine]
	audio       factories[audio.Source]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         newFactories[llm.Provider]("llm"),
		transcriber: newFactories[stt.Transcriber]("transcriber"),
		stt:         newFactories[stt.Provider]("stt"),
		vad:         newFactories[vad.Engine]("vad"),
		audio:       newFactories[audio.Source]("audio"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterTranscriber registers a batch transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber.m[name] = factory
}

// RegisterSTT registers a streaming STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterAudio registers a microphone source factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTranscriber instantiates a batch transcriber.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcriber.create(entry)
}

// CreateSTT instantiates a streaming STT provider.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateVAD instantiates a VAD engine.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateAudio instantiates a microphone source.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// Names returns the sorted registered provider names per kind.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind:         slices.Sorted(maps.Keys(r.llm.m)),
		r.transcriber.kind: slices.Sorted(maps.Keys(r.transcriber.m)),
		r.stt.kind:         slices.Sorted(maps.Keys(r.stt.m)),
		r.vad.kind:         slices.Sorted(maps.Keys(r.vad.m)),
		r.audio.kind:       slices.Sorted(maps.Keys(r.audio.m)),
	}
}
