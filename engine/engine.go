// Package engine runs an application as a set of registered modules.
// Modules declare a name, an update stage and the modules they require;
// the engine resolves the dependency graph, creates and initializes
// modules in order, drives the staged update loop with independent
// update and render rate caps, and shuts down in reverse order.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loov/hrtime"
)

// Options caps the engine's update and render rates. A zero rate means
// uncapped.
type Options struct {
	// UPS is the updates per second for the pre, normal and post stages.
	UPS float64
	// FPS is the updates per second for the render stage.
	FPS float64
}

type moduleEntry struct {
	name   string
	stage  Stage
	module Module
}

// Engine owns the module lifecycle: creation in dependency order,
// initialization, the staged update loop and shutdown in reverse order.
type Engine struct {
	options Options

	modules []moduleEntry
	byName  map[string]Module

	stop        atomic.Bool
	initialized bool

	lastUpdate  time.Duration
	lastRender  time.Duration
	updateDelta time.Duration
	renderDelta time.Duration

	upsCounter rateCounter
	fpsCounter rateCounter
}

// NewEngine resolves the registry and creates every module in dependency
// order. Factories may look up their dependencies with Module.
func NewEngine(registry *Registry, options Options) (*Engine, error) {
	resolved, err := registry.Resolve()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		options: options,
		byName:  make(map[string]Module, len(resolved)),
	}
	for _, reg := range resolved {
		module, err := reg.Create(e)
		if err != nil {
			return nil, fmt.Errorf("create module %q: %w", reg.Name, err)
		}
		e.modules = append(e.modules, moduleEntry{name: reg.Name, stage: reg.Stage, module: module})
		e.byName[reg.Name] = module
	}
	return e, nil
}

// Module returns a created module by its registered name.
func (e *Engine) Module(name string) (Module, bool) {
	m, ok := e.byName[name]
	return m, ok
}

// Initialize initializes every module in creation order. On failure the
// already initialized modules are shut down in reverse order.
func (e *Engine) Initialize() error {
	for i, entry := range e.modules {
		if err := entry.module.Initialize(); err != nil {
			for j := i - 1; j >= 0; j-- {
				e.modules[j].module.Shutdown()
			}
			return fmt.Errorf("initialize module %q: %w", entry.name, err)
		}
	}
	e.initialized = true
	return nil
}

// RequestStop asks the run loop to exit after the current iteration.
// Safe to call from any goroutine.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// Stopping reports whether a stop was requested.
func (e *Engine) Stopping() bool {
	return e.stop.Load()
}

// UpdateDelta returns the time between the last two rate-capped updates.
func (e *Engine) UpdateDelta() time.Duration {
	return e.updateDelta
}

// RenderDelta returns the time between the last two render updates.
func (e *Engine) RenderDelta() time.Duration {
	return e.renderDelta
}

// UPS returns the measured updates per second.
func (e *Engine) UPS() int {
	return e.upsCounter.rate
}

// FPS returns the measured render updates per second.
func (e *Engine) FPS() int {
	return e.fpsCounter.rate
}

func rateInterval(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

// Update runs one engine iteration: always-stage modules run
// unconditionally, the pre, normal and post stages run when the update
// interval elapsed and the render stage when the render interval
// elapsed.
func (e *Engine) Update() error {
	now := hrtime.Now()

	if err := e.updateStage(StageAlways); err != nil {
		return err
	}

	if interval := rateInterval(e.options.UPS); interval == 0 || now-e.lastUpdate >= interval {
		e.updateDelta = now - e.lastUpdate
		e.lastUpdate = now
		e.upsCounter.tick(now)

		for _, stage := range []Stage{StagePre, StageNormal, StagePost} {
			if err := e.updateStage(stage); err != nil {
				return err
			}
		}
	}

	if interval := rateInterval(e.options.FPS); interval == 0 || now-e.lastRender >= interval {
		e.renderDelta = now - e.lastRender
		e.lastRender = now
		e.fpsCounter.tick(now)

		if err := e.updateStage(StageRender); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) updateStage(stage Stage) error {
	for _, entry := range e.modules {
		if entry.stage != stage {
			continue
		}
		if err := entry.module.Update(); err != nil {
			return fmt.Errorf("update module %q: %w", entry.name, err)
		}
	}
	return nil
}

// Run initializes the modules if needed and iterates until a stop is
// requested or a module errors, then shuts down.
func (e *Engine) Run() error {
	if !e.initialized {
		if err := e.Initialize(); err != nil {
			return err
		}
	}
	defer e.Shutdown()

	start := hrtime.Now()
	e.lastUpdate = start
	e.lastRender = start

	for !e.stop.Load() {
		if err := e.Update(); err != nil {
			return err
		}
		if e.options.UPS > 0 && e.options.FPS > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// Shutdown shuts every module down in reverse creation order. Idempotent.
func (e *Engine) Shutdown() {
	if !e.initialized {
		return
	}
	e.initialized = false
	for i := len(e.modules) - 1; i >= 0; i-- {
		e.modules[i].module.Shutdown()
	}
}

// rateCounter counts ticks per wall second.
type rateCounter struct {
	windowStart time.Duration
	count       int
	rate        int
}

func (c *rateCounter) tick(now time.Duration) {
	c.count++
	if now-c.windowStart >= time.Second {
		c.rate = c.count
		c.count = 0
		c.windowStart = now
	}
}
