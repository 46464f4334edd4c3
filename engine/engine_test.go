package engine

import (
	"fmt"
	"strings"
	"testing"
)

// traceModule appends lifecycle events to a shared log.
type traceModule struct {
	name    string
	log     *[]string
	initErr error
	updErr  error
}

func (m *traceModule) Initialize() error {
	*m.log = append(*m.log, "init:"+m.name)
	return m.initErr
}

func (m *traceModule) Update() error {
	*m.log = append(*m.log, "update:"+m.name)
	return m.updErr
}

func (m *traceModule) Shutdown() {
	*m.log = append(*m.log, "shutdown:"+m.name)
}

func traceCreate(name string, log *[]string) func(e *Engine) (Module, error) {
	return func(e *Engine) (Module, error) {
		return &traceModule{name: name, log: log}, nil
	}
}

func TestEngineCreatesInDependencyOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(Registration{Name: "render", Stage: StageRender, Requires: []string{"windows"},
		Create: func(e *Engine) (Module, error) {
			// The dependency must already exist when the factory runs.
			if _, ok := e.Module("windows"); !ok {
				return nil, fmt.Errorf("windows not created yet")
			}
			return &traceModule{name: "render", log: &log}, nil
		}})
	r.Register(Registration{Name: "windows", Stage: StageAlways, Create: traceCreate("windows", &log)})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Module("render"); !ok {
		t.Fatal("render module missing after creation")
	}
}

func TestEngineInitializeOrderAndShutdownReverse(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(Registration{Name: "a", Stage: StageNormal, Create: traceCreate("a", &log)})
	r.Register(Registration{Name: "b", Stage: StageNormal, Requires: []string{"a"}, Create: traceCreate("b", &log)})
	r.Register(Registration{Name: "c", Stage: StageNormal, Requires: []string{"b"}, Create: traceCreate("c", &log)})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	e.Shutdown()
	e.Shutdown() // idempotent

	want := []string{"init:a", "init:b", "init:c", "shutdown:c", "shutdown:b", "shutdown:a"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Fatalf("lifecycle %v, want %v", log, want)
	}
}

func TestEngineInitializeFailureUnwinds(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(Registration{Name: "a", Stage: StageNormal, Create: traceCreate("a", &log)})
	r.Register(Registration{Name: "bad", Stage: StageNormal, Requires: []string{"a"},
		Create: func(e *Engine) (Module, error) {
			return &traceModule{name: "bad", log: &log, initErr: fmt.Errorf("boom")}, nil
		}})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err == nil {
		t.Fatal("expected the init error to surface")
	}

	want := []string{"init:a", "init:bad", "shutdown:a"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Fatalf("lifecycle %v, want %v", log, want)
	}
}

func TestEngineStageOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	// Registered out of stage order on purpose.
	r.Register(Registration{Name: "renderer", Stage: StageRender, Create: traceCreate("renderer", &log)})
	r.Register(Registration{Name: "input", Stage: StageAlways, Create: traceCreate("input", &log)})
	r.Register(Registration{Name: "physics", Stage: StagePre, Create: traceCreate("physics", &log)})
	r.Register(Registration{Name: "game", Stage: StageNormal, Create: traceCreate("game", &log)})
	r.Register(Registration{Name: "audio", Stage: StagePost, Create: traceCreate("audio", &log)})
	r.Register(Registration{Name: "idle", Stage: StageNever, Create: traceCreate("idle", &log)})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	log = nil

	// Uncapped rates: one iteration runs every stage.
	if err := e.Update(); err != nil {
		t.Fatal(err)
	}

	want := []string{"update:input", "update:physics", "update:game", "update:audio", "update:renderer"}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Fatalf("stage order %v, want %v", log, want)
	}
}

func TestEngineUpdateErrorNamesModule(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(Registration{Name: "flaky", Stage: StageNormal,
		Create: func(e *Engine) (Module, error) {
			return &traceModule{name: "flaky", log: &log, updErr: fmt.Errorf("boom")}, nil
		}})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	err = e.Update()
	if err == nil || !strings.Contains(err.Error(), "flaky") {
		t.Fatalf("update error should name the module: %v", err)
	}
}

// stopModule requests a stop on its first update.
type stopModule struct {
	e       *Engine
	updates int
}

func (m *stopModule) Initialize() error { return nil }

func (m *stopModule) Update() error {
	m.updates++
	m.e.RequestStop()
	return nil
}

func (m *stopModule) Shutdown() {}

func TestEngineRunStops(t *testing.T) {
	r := NewRegistry()
	var mod *stopModule
	r.Register(Registration{Name: "stopper", Stage: StageAlways,
		Create: func(e *Engine) (Module, error) {
			mod = &stopModule{e: e}
			return mod, nil
		}})

	e, err := NewEngine(r, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	if mod.updates == 0 {
		t.Fatal("run never updated the module")
	}
	if !e.Stopping() {
		t.Fatal("stop flag not set")
	}
}
