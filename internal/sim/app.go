// Package sim is the ambient wiring layer: the game-thread/render-thread
// loop spec.md §5 describes, built as a thin App/Module/Commands harness
// in the teacher's own style (app.go/schedule.go/commands.go) rather than
// from scratch.
//
// The teacher's App carries a finite-state-machine run loop
// (runStateful/runStateless) built around a reflection-resolved System
// signature; this module keeps that shape — Module.Install, stage-ordered
// systems, a Commands handle passed into systems — but drops the FSM
// states entirely, since the simulation core has exactly one loop: run
// until told to stop. That also sidesteps the teacher's own duplicate
// declaration of `type State int` in both app.go and schedule.go, which
// only happened to compile there because both files share package gekko.
package sim

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/google/uuid"

	"github.com/boxcity/boxcity/internal/jobs"
	"github.com/boxcity/boxcity/internal/log"
)

// Stage is a named point in the per-frame schedule, ordered exactly as
// listed in Stages.
type Stage struct {
	Name string
}

var (
	Prelude    = Stage{Name: "Prelude"}
	PreUpdate  = Stage{Name: "PreUpdate"}
	Update     = Stage{Name: "Update"}
	PostUpdate = Stage{Name: "PostUpdate"}
	PreRender  = Stage{Name: "PreRender"}
	Render     = Stage{Name: "Render"}
	PostRender = Stage{Name: "PostRender"}
	Finale     = Stage{Name: "Finale"}
)

// Stages is the fixed per-frame ordering. RunFrames runs every stage on the
// calling (game) goroutine; submission happens on Loop's render/submit
// goroutine once a stage system hands it a frame via EndPrepare.
var Stages = []Stage{Prelude, PreUpdate, Update, PostUpdate, PreRender, Render, PostRender, Finale}

// System is any func(*Arg1, *Arg2, ...) whose argument types are either
// *Commands or a registered resource pointer, resolved by reflection at
// call time exactly as the teacher's callSystemInternal does.
type System any

// Module installs resources and systems into an App.
type Module interface {
	Install(app *App, cmd *Commands)
}

type App struct {
	Log       log.Logger
	Jobs      *jobs.Pool
	RunID     string // unique per process, logged once at startup for run correlation
	resources map[reflect.Type]any
	systems   map[string][]System
	stopped   bool
}

func NewApp(logger log.Logger, pool *jobs.Pool) *App {
	app := &App{
		Log:       logger,
		Jobs:      pool,
		RunID:     uuid.NewString(),
		resources: make(map[reflect.Type]any),
		systems:   make(map[string][]System),
	}
	for _, s := range Stages {
		app.systems[s.Name] = nil
	}
	app.Log.Infof("starting run %s", app.RunID)
	return app
}

func (app *App) Commands() *Commands { return &Commands{app: app} }

// AddResources registers pointers, addressable by systems that declare a
// matching pointer-typed parameter (the teacher's reflect-based DI).
func (app *App) AddResources(resources ...any) *App {
	for _, r := range resources {
		t := reflect.TypeOf(r)
		if t.Kind() != reflect.Ptr {
			panic(fmt.Sprintf("sim: resource %T must be a pointer", r))
		}
		if _, exists := app.resources[t.Elem()]; exists {
			panic(fmt.Sprintf("sim: resource %s already registered", t))
		}
		app.resources[t.Elem()] = r
	}
	return app
}

// UseSystem appends system to the given stage's run list, in
// registration order.
func (app *App) UseSystem(stage Stage, system System) *App {
	if _, ok := app.systems[stage.Name]; !ok {
		panic(fmt.Sprintf("sim: stage %q is not registered", stage.Name))
	}
	app.systems[stage.Name] = append(app.systems[stage.Name], system)
	return app
}

// Stop requests the run loop exit after the current frame's Finale
// stage completes.
func (app *App) Stop() { app.stopped = true }

// RunFrames runs exactly n frames, calling every stage's systems in
// order; used by tests and by Run for a bounded loop.
func (app *App) RunFrames(n int) {
	for i := 0; i < n && !app.stopped; i++ {
		for _, stage := range Stages {
			for _, system := range app.systems[stage.Name] {
				app.callSystem(system)
			}
		}
	}
}

// Run loops RunFrames(1) until Stop is called.
func (app *App) Run() {
	for !app.stopped {
		app.RunFrames(1)
	}
}

var typeOfCommands = reflect.TypeOf(Commands{})

func (app *App) callSystem(system System) {
	v := reflect.ValueOf(system)
	t := v.Type()
	args := make([]reflect.Value, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		argType := t.In(i)
		elem := argType.Elem()
		if elem == typeOfCommands {
			args[i] = reflect.ValueOf(app.Commands())
			continue
		}
		resource, ok := app.resources[elem]
		if !ok {
			panic(fmt.Sprintf("sim: system %s wants unresolved dependency %s",
				runtime.FuncForPC(v.Pointer()).Name(), argType))
		}
		args[i] = reflect.ValueOf(resource)
	}
	v.Call(args)
}

// Commands is the mutation handle passed into systems, grounded on the
// teacher's commands.go (a thin wrapper deferring to App).
type Commands struct {
	app *App
}

func (c *Commands) Stop() { c.app.Stop() }

func (c *Commands) AddResources(resources ...any) *Commands {
	c.app.AddResources(resources...)
	return c
}
