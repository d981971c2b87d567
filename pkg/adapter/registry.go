package adapter

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapask/pkg/core"
)

// Factory creates an unconnected adapter. A nil logger means discard.
type Factory func(*slog.Logger) Adapter

type registration struct {
	factory Factory
	formats []FileFormat
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register adds an adapter and the file formats it can read. Adapter packages
// call it from init. Registering a name twice replaces the earlier entry.
func Register(name string, factory Factory, formats ...FileFormat) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{factory: factory, formats: slices.Clone(formats)}
}

// Get retrieves an adapter factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r.factory, ok
}

// ForFormat returns the adapter that reads format. When several adapters
// can, the lexically smallest name wins so the choice is stable.
func ForFormat(format FileFormat) (string, bool) {
	for _, name := range ListAdapters() {
		registryMu.RLock()
		r := registry[name]
		registryMu.RUnlock()
		if slices.Contains(r.formats, format) {
			return name, true
		}
	}
	return "", false
}

// Formats returns the formats the named adapter reads.
func Formats(name string) []FileFormat {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Clone(registry[name].formats)
}

// NewAdapter creates an unconnected adapter of cfg.Type.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}

	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{
			Type:      cfg.Type,
			Available: ListAdapters(),
		}
	}
	return factory(logger), nil
}

// ListAdapters returns all registered adapter names, sorted.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an adapter type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown data engine %q (registered: %s); is its package imported?", e.Type, strings.Join(e.Available, ", "))
}

// UnsupportedFormatError is returned when no registered adapter reads a file.
type UnsupportedFormatError struct {
	Path string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("no data engine reads %s", e.Path)
}
