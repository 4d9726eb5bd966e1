// Package orchestrator defines the service orchestrator contract (spec
// §4.4): start/stop/purge of local services by (circuit, service_id,
// type, args). The admin service never talks to a concrete service
// runtime directly; it only talks to this interface.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/splinter-dev/splinter/circuit"
)

// ErrUnsupportedServiceType is returned when no factory is registered for
// a service type.
var ErrUnsupportedServiceType = errors.New("orchestrator: unsupported service type")

// ErrAlreadyRunning is returned by InitializeService when the same
// (circuit, service) pair is already running.
var ErrAlreadyRunning = errors.New("orchestrator: service already running")

// Definition identifies one service instance within a circuit (spec §4.4).
type Definition struct {
	CircuitID   string
	ServiceID   string
	ServiceType string
}

// Orchestrator is the contract the admin service drives local service
// lifecycles through (spec §4.4).
type Orchestrator interface {
	// SupportedServiceTypes lists the service types this orchestrator can run.
	SupportedServiceTypes() []string
	// InitializeService starts def with the given arguments; fails if the
	// type is unsupported or the service is already running.
	InitializeService(def Definition, args []circuit.Argument) error
	// StopService is idempotent with respect to an already-stopped service.
	StopService(def Definition) error
	// PurgeService stops the service (if running) and deletes its
	// state-store contents.
	PurgeService(def Definition) error
}

//go:generate go run go.uber.org/mock/mockgen -source=orchestrator.go -destination=orchestratormock/mock.go -package=orchestratormock

// Factory constructs and runs one service instance. Concrete service
// implementations (e.g. scabbard) satisfy this to be pluggable into a
// Registry; the admin service itself never imports a concrete service.
type Factory interface {
	Start(def Definition, args []circuit.Argument) error
	Stop(def Definition) error
	PurgeState(def Definition) error
}

// Registry is the reference Orchestrator implementation: a single mutex
// guards a type->Factory map and a set of running instances, mirroring
// the single-exclusive-lock discipline used throughout this codebase
// (spec §5).
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	running   map[Definition]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		running:   make(map[Definition]struct{}),
	}
}

// Register binds serviceType to factory. Intended to be called once at
// startup per supported type, not under load.
func (r *Registry) Register(serviceType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[serviceType] = factory
}

func (r *Registry) SupportedServiceTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

func (r *Registry) InitializeService(def Definition, args []circuit.Argument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	factory, ok := r.factories[def.ServiceType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedServiceType, def.ServiceType)
	}
	if _, running := r.running[def]; running {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyRunning, def.CircuitID, def.ServiceID)
	}
	if err := factory.Start(def, args); err != nil {
		return fmt.Errorf("orchestrator: start %s/%s: %w", def.CircuitID, def.ServiceID, err)
	}
	r.running[def] = struct{}{}
	return nil
}

func (r *Registry) StopService(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.running[def]; !running {
		return nil
	}
	factory, ok := r.factories[def.ServiceType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedServiceType, def.ServiceType)
	}
	if err := factory.Stop(def); err != nil {
		return fmt.Errorf("orchestrator: stop %s/%s: %w", def.CircuitID, def.ServiceID, err)
	}
	delete(r.running, def)
	return nil
}

func (r *Registry) PurgeService(def Definition) error {
	if err := r.StopService(def); err != nil {
		return err
	}
	r.mu.Lock()
	factory, ok := r.factories[def.ServiceType]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedServiceType, def.ServiceType)
	}
	if err := factory.PurgeState(def); err != nil {
		return fmt.Errorf("orchestrator: purge %s/%s: %w", def.CircuitID, def.ServiceID, err)
	}
	return nil
}

var _ Orchestrator = (*Registry)(nil)
