// Command boxcitysim wires the simulation core's modules into a single
// App and runs a single frame of the game loop plus the render/submit
// thread.
// Grounded on the teacher's package-level Run() entrypoint pattern
// (no CLI flags, no config file — a plain options struct, per
// internal/config).
package main

import (
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/boxcity/boxcity/internal/camera"
	"github.com/boxcity/boxcity/internal/config"
	"github.com/boxcity/boxcity/internal/display"
	"github.com/boxcity/boxcity/internal/ecs"
	"github.com/boxcity/boxcity/internal/framegraph"
	"github.com/boxcity/boxcity/internal/gpumem"
	"github.com/boxcity/boxcity/internal/input"
	"github.com/boxcity/boxcity/internal/jobs"
	"github.com/boxcity/boxcity/internal/log"
	"github.com/boxcity/boxcity/internal/sim"
	"github.com/boxcity/boxcity/internal/tile"
	"github.com/boxcity/boxcity/internal/traffic"
	"github.com/boxcity/boxcity/internal/vehicle"
)

const (
	compTransform ecs.ComponentID = iota + 1
	compVehicle
	compBuilding
)

const (
	archVehicle ecs.ArchetypeID = iota
	archBuilding
)

type transformComponent struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
}

type vehicleComponent struct {
	State   vehicle.State
	Target  vehicle.Target
	Tuning  vehicle.Tuning
}

func buildSchema() *ecs.Schema {
	schema := ecs.NewSchema()
	ecs.RegisterComponent[transformComponent](schema, compTransform)
	ecs.RegisterComponent[vehicleComponent](schema, compVehicle)
	ecs.RegisterComponent[struct{}](schema, compBuilding)

	schema.RegisterArchetype(ecs.ArchetypeDef{
		ID:         archVehicle,
		Components: []ecs.ComponentID{ecs.BackPointerComponent, compTransform, compVehicle},
	})
	schema.RegisterArchetype(ecs.ArchetypeDef{
		ID:         archBuilding,
		Components: []ecs.ComponentID{ecs.BackPointerComponent, compTransform, compBuilding},
	})
	return schema
}

func main() {
	logger := log.New("boxcitysim", os.Getenv("BOXCITY_DEBUG") == "1")
	cfg := config.Default()

	pool := jobs.New()
	defer pool.Close()

	schema := buildSchema()
	store := ecs.NewStore(schema, pool.NumWorkers())

	trafficMgr := traffic.NewManager(cfg, gpumem.NewSlab(64<<20), gpumem.NewCopyQueue(gpumem.NewSegmentRing(8, 1<<20), pool.NumWorkers()))

	store.OnTransaction(func(tx ecs.Transaction) {
		if tx.Arch != archVehicle {
			return
		}
		if tx.Kind == ecs.TxMove {
			trafficMgr.RegisterECSChange(tx.Zone, int(tx.Index))
			trafficMgr.RegisterECSChange(tx.FromZone, int(tx.FromIndex))
		} else {
			trafficMgr.RegisterECSChange(tx.Zone, int(tx.Index))
		}
	})

	var nextWorker int
	tileMgr := tile.NewManager(cfg, gpumem.NewSlab(256<<20),
		func(zone ecs.ZoneID, b tile.Building) ecs.InstanceRef {
			worker := nextWorker % pool.NumWorkers()
			nextWorker++
			return store.Alloc(worker, zone, archBuilding)
		},
		func(ref ecs.InstanceRef) {
			store.Dealloc(0, ref)
		},
	)

	cam := camera.NewFreeFly(mgl32.Vec3{0, 0, 50})
	device := display.NewNull()
	loop := sim.NewLoop(device, pool)
	go loop.RunRenderThread()

	app := sim.NewApp(logger, pool)
	app.AddResources(cam, &frameState{frame: 0})
	sim.InstallTime(app)

	app.UseSystem(sim.PreUpdate, func(fs *frameState) {
		src := input.Static{KeyState: input.KeyState{}, IsFocused: true}
		x, y, z := input.MoveVector(src.Keys())
		cam.UpdateFreeFly(mgl32.Vec3{x, y, z}, mgl32.Vec2{}, 0, 1.0/60.0)
	})

	app.UseSystem(sim.Update, func(fs *frameState) {
		camTile := tile.WorldPos{
			I: int32(math.Floor(float64(cam.Position.X() / cfg.TileSize))),
			J: int32(math.Floor(float64(cam.Position.Y() / cfg.TileSize))),
		}
		tileMgr.SetCameraTile(camTile)
		trafficMgr.SetCameraTile(traffic.WorldPos{I: camTile.I, J: camTile.J})

		updateVehicles(store, cam, fs.frame)

		sim.RunJobs(pool, pool.NumWorkers(), func(workerIndex, item int) {
			// placeholder fan-out point for per-worker vehicle AI batches;
			// the single-threaded updateVehicles above covers correctness,
			// this demonstrates the job-pool wiring spec.md §5 requires.
		})
	})

	app.UseSystem(sim.PostUpdate, func(fs *frameState) {
		store.Tick()
		trafficMgr.ProcessCarMoves(fs.frame)
	})

	app.UseSystem(sim.PreRender, func(fs *frameState) {
		loop.WaitForRenderSlot()
	})

	app.UseSystem(sim.Render, func(fs *frameState) {
		fgPool := framegraph.NewPool(cfg.DeferredFreeFrames)
		graph := framegraph.NewGraph(fgPool)
		graph.AddPass(&framegraph.Pass{
			Name:        "gbuffer",
			PostUpdates: []framegraph.Dep{{Resource: "backbuffer", State: framegraph.StateRenderTarget}},
		})
		graph.AddPass(&framegraph.Pass{
			Name:          "present",
			PreConditions: []framegraph.Dep{{Resource: "backbuffer", State: framegraph.StateRenderTarget}},
			PostUpdates:   []framegraph.Dep{{Resource: "backbuffer", State: framegraph.StatePresent}},
		})

		loop.EndPrepare(&sim.RenderFrame{
			FrameIndex: fs.frame,
			Graph:      graph,
			Submit: func(d display.Device, g *framegraph.Graph) framegraph.ScheduleResult {
				return g.Submit()
			},
		})
	})

	app.UseSystem(sim.Finale, func(fs *frameState) {
		fs.frame++
	})

	app.RunFrames(1) // single-frame smoke run; replace with app.Run() for a live process
	loop.Stop()
}

type frameState struct {
	frame uint64
}

// updateVehicles drives every live vehicle's controller for one tick,
// reading/writing its Transform+Vehicle components via ecs.Process2.
func updateVehicles(store *ecs.Store, cam *camera.Camera, frame uint64) {
	ecs.Process2[transformComponent, vehicleComponent](store, 0, compTransform, compVehicle, ecs.AllZones(),
		func(it *ecs.Iterator, t *transformComponent, v *vehicleComponent) {
			dist := t.Position.Sub(cam.Position).Len()
			if !vehicle.NeedsUpdate(int(it.Ref().Slot), frame, dist, 0, 2000, v.Tuning.MaxRetarget) {
				return
			}

			front := mgl32.Vec3{0, 1, 0}
			up := mgl32.Vec3{0, 0, 1}
			flatLeft := mgl32.Vec3{1, 0, 0}

			_, behind, retarget := vehicle.SteerTarget(t.Position, front, v.Target, v.Tuning)

			var cache [4]vehicle.CachedBuilding // no BVH wired into the smoke run; avoidance is a no-op until it is
			dx, dy, _ := vehicle.AvoidanceDelta(cache, t.Position, front, flatLeft, up, 1, v.Tuning)
			xTarget, yTarget := vehicle.ClampTarget(dx, dy, v.Tuning)

			control := vehicle.Control{
				XTarget: xTarget,
				YTarget: yTarget,
				Forward: vehicle.ForwardMagnitude(behind),
			}
			force, torque := vehicle.Forces(v.State, control, mgl32.Vec3{1, 1, 1}, v.Tuning, 1.0/60.0)
			v.State = vehicle.Integrate(v.State, force, torque, 1, mgl32.Vec3{1, 1, 1}, 1.0/60.0, mgl32.Vec3{})
			t.Position = v.State.Position
			t.Rotation = v.State.Rotation

			if retarget {
				v.Target.Valid = false
			}
		})
}
