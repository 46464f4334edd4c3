package engine

import (
	"fmt"
	"sort"
)

// Stage decides when a module updates within an engine iteration.
type Stage int

const (
	// StageNever modules initialize and shut down but never update.
	StageNever Stage = iota
	// StageAlways modules update every iteration, regardless of the
	// update rate cap.
	StageAlways
	// StagePre modules update before the main update.
	StagePre
	// StageNormal is the main update stage.
	StageNormal
	// StagePost modules update after the main update.
	StagePost
	// StageRender modules update at the render rate.
	StageRender
)

func (s Stage) String() string {
	switch s {
	case StageNever:
		return "never"
	case StageAlways:
		return "always"
	case StagePre:
		return "pre"
	case StageNormal:
		return "normal"
	case StagePost:
		return "post"
	case StageRender:
		return "render"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Module is one unit of engine functionality. Modules are created in
// dependency order, initialized in that order, updated by stage and shut
// down in reverse order.
type Module interface {
	Initialize() error
	Update() error
	Shutdown()
}

// Registration declares a module to the engine: its name, the stage it
// updates in, the names of the modules it depends on and its factory.
// The factory receives the engine so a module can look up already
// created dependencies.
type Registration struct {
	Name     string
	Stage    Stage
	Requires []string
	Create   func(e *Engine) (Module, error)
}

// Registry collects module registrations and resolves them into a
// creation order that respects dependencies.
type Registry struct {
	registrations map[string]Registration
	order         []string
}

func NewRegistry() *Registry {
	return &Registry{registrations: make(map[string]Registration)}
}

// Register adds a module registration. Names must be unique and the
// factory must be set.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("module registration needs a name")
	}
	if reg.Create == nil {
		return fmt.Errorf("module %q has no factory", reg.Name)
	}
	if _, exists := r.registrations[reg.Name]; exists {
		return fmt.Errorf("module %q registered twice", reg.Name)
	}
	r.registrations[reg.Name] = reg
	r.order = append(r.order, reg.Name)
	return nil
}

// Resolve returns the registrations sorted so every module comes after
// the modules it requires. Unknown dependencies and dependency cycles
// are errors. Modules with no ordering constraint between them keep
// their registration order.
func (r *Registry) Resolve() ([]Registration, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(r.registrations))
	resolved := make([]Registration, 0, len(r.registrations))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		reg, ok := r.registrations[name]
		if !ok {
			return fmt.Errorf("module %q requires unknown module %q", path[len(path)-1], name)
		}

		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("module dependency cycle: %s", cyclePath(append(path, name)))
		}

		state[name] = visiting
		requires := append([]string{}, reg.Requires...)
		sort.Strings(requires)
		for _, dep := range requires {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		resolved = append(resolved, reg)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// cyclePath trims the path to the cycle itself.
func cyclePath(path []string) string {
	last := path[len(path)-1]
	start := 0
	for i, name := range path[:len(path)-1] {
		if name == last {
			start = i
			break
		}
	}
	s := ""
	for i, name := range path[start:] {
		if i > 0 {
			s += " -> "
		}
		s += name
	}
	return s
}
