package components

import (
	"context"
	"fmt"
	"log/slog"

	"dispatch/internal/graph"
)

const (
	StorageComponentName   = "storage"
	SchedulerComponentName = "scheduler"
	ServerComponentName    = "server"
)

type IComponent interface {
	Name() string
	Dependencies() []string
	Validate() error
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error
}

// Registry starts components in dependency order and closes them in
// reverse.
type Registry struct {
	components map[string]IComponent
	order      []string
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		components: make(map[string]IComponent),
		order:      make([]string, 0),
		logger:     logger,
	}
}

func (r *Registry) Register(component IComponent) error {
	name := component.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = component
	return nil
}

func (r *Registry) Get(name string) (IComponent, bool) {
	comp, exists := r.components[name]
	return comp, exists
}

func (r *Registry) InitializeAll(ctx context.Context) error {
	nodes := make(map[string]graph.Node)
	for name, comp := range r.components {
		nodes[name] = &componentNode{comp: comp}
	}

	if err := graph.ValidateGraph(nodes); err != nil {
		return err
	}

	order, err := graph.TopologicalSort(nodes)
	if err != nil {
		return err
	}

	for _, name := range order {
		comp := r.components[name]
		if err := comp.Validate(); err != nil {
			return fmt.Errorf("component %s validation failed: %w", name, err)
		}
	}

	for _, name := range order {
		comp := r.components[name]
		if err := comp.Initialize(ctx); err != nil {
			r.closeUpTo(ctx, r.order)
			return fmt.Errorf("component %s initialization failed: %w", name, err)
		}
		r.order = append(r.order, name)
		r.logger.Debug("Component initialized", "component", name)
	}

	return nil
}

type componentNode struct {
	comp IComponent
}

func (cn *componentNode) GetName() string {
	return cn.comp.Name()
}

func (cn *componentNode) GetDependencies() []string {
	return cn.comp.Dependencies()
}

// CloseAll closes initialized components in reverse start order. Errors
// are logged so every component gets its chance to close.
func (r *Registry) CloseAll(ctx context.Context) {
	r.closeUpTo(ctx, r.order)
	r.order = nil
}

func (r *Registry) closeUpTo(ctx context.Context, order []string) {
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := r.components[name].Close(ctx); err != nil {
			r.logger.Error("Error closing component", "component", name, "error", err)
		}
	}
}
