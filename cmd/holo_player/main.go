package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine"
	"github.com/Carmen-Shannon/oxy-holo/engine/camera"
	"github.com/Carmen-Shannon/oxy-holo/engine/config"
	"github.com/Carmen-Shannon/oxy-holo/engine/game_object"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/Carmen-Shannon/oxy-holo/engine/window"
	"github.com/Carmen-Shannon/oxy-holo/engine/work_dispatcher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config   string
	stage    string
	window   bool
	gpu      bool
	duration time.Duration
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "TOML config file; watched for changes")
	flag.StringVar(&f.stage, "stage", "", "YAML stage manifest; overrides [stage] manifest")
	flag.BoolVar(&f.window, "window", false, "open a window and present through webgpu")
	flag.BoolVar(&f.gpu, "gpu", false, "upload through a headless webgpu device instead of host memory")
	flag.DurationVar(&f.duration, "duration", 0, "stop after this long; 0 runs until interrupted")
	flag.Parse()
	return f
}

func run() error {
	f := parseFlags()

	// 1. Config and logger
	cfg := config.Default()
	if f.config != "" {
		loaded, err := config.Load(f.config)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	// 2. Window and uploader
	var (
		win      window.Window
		gpu      renderer.Renderer
		uploader upload.Uploader
	)
	if f.window {
		win, err = window.NewWindow(window.WithTitle("oxy-holo"), window.WithLogger(log.Named("window")))
		if err != nil {
			return fmt.Errorf("open window: %w", err)
		}
		defer win.Close()
	}
	if f.window || f.gpu {
		var opts []renderer.RendererBuilderOption
		opts = append(opts, renderer.WithLogger(log.Named("renderer")), renderer.WithPresentMode(renderer.PresentModeVSync))
		if win != nil {
			opts = append(opts, renderer.WithSurfaceDescriptor(win.SurfaceDescriptor()))
		}
		gpu, err = renderer.NewRenderer(opts...)
		if err != nil {
			return fmt.Errorf("create renderer: %w", err)
		}
		defer gpu.Release()
		if win != nil {
			gpu.ConfigureSurface(win.Width(), win.Height())
		}
		uploader = gpu
	} else {
		uploader = upload.NewHostUploader()
	}

	// 3. Manager
	manager := newManager(cfg, log)
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize holo manager: %w", err)
	}
	defer manager.Shutdown()
	if !cfg.Manager.EditorPreview {
		manager.BeginPlaySession()
	}

	// 4. Stage
	entries := DefaultStage(3)
	if manifest := common.Coalesce(f.stage, cfg.Stage.Manifest); manifest != "" {
		entries, err = LoadManifest(manifest)
		if err != nil {
			return err
		}
	}
	actors, err := Spawn(entries, manager, uploader, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, a := range actors {
			a.Destroy()
		}
	}()

	// 5. Camera and engine
	aspect := float32(16.0 / 9.0)
	if win != nil {
		aspect = float32(win.Width()) / float32(win.Height())
	}
	cam := camera.NewCamera(
		camera.WithAspect(aspect),
		camera.WithFar(500),
		camera.WithController(camera.NewCameraController(
			camera.WithRadius(12),
			camera.WithElevation(0.4),
			camera.WithRadiusLimits(2, 200),
		)),
	)

	engineOptions := []engine.EngineBuilderOption{
		engine.WithLogger(log.Named("engine")),
		engine.WithTickRate(cfg.Engine.TickRate),
		engine.WithRenderFrameLimit(cfg.Engine.RenderFrameLimit),
		engine.WithProfiling(cfg.Engine.Profiling, cfg.Engine.ProfileInterval),
		engine.WithView(cam),
	}
	if gpu != nil {
		engineOptions = append(engineOptions, engine.WithRenderer(gpu))
	}
	if win != nil {
		engineOptions = append(engineOptions, engine.WithWindow(win))
	}
	eng := engine.NewEngine(manager, engineOptions...)
	eng.SetTickCallback(func(dt float32) {
		step := time.Duration(float64(dt) * float64(time.Second))
		for _, a := range actors {
			if p := a.Player(); p != nil {
				if err := p.Tick(step); err != nil {
					log.Debug("tick", zap.String("actor", a.Name()), zap.Error(err))
				}
			}
		}
	})
	if gpu != nil && win == nil {
		eng.SetRenderCallback(func(float32) {
			if err := gpu.Flush(); err != nil {
				log.Warn("flush uploads", zap.Error(err))
			}
		})
	}
	if win != nil {
		bindInput(win, cam, gpu, manager, actors, log)
	}

	// 6. Run: the engine owns the calling goroutine (window thread); the config watcher runs
	// alongside it and stops with it.
	g, gctx := errgroup.WithContext(ctx)
	if f.config != "" {
		g.Go(func() error {
			return config.Watch(gctx, f.config, log.Named("config"), func(next *config.Config) {
				manager.Configure(next.Settings())
				eng.SetTickRate(next.Engine.TickRate)
				if next.Engine.Profiling {
					eng.EnableProfiler()
				} else {
					eng.DisableProfiler()
				}
			})
		})
	}

	log.Info("holo player running",
		zap.Int("actors", len(actors)),
		zap.Bool("window", win != nil),
		zap.Bool("gpu", gpu != nil),
		zap.Duration("duration", f.duration),
	)
	runErr := eng.Run(gctx)
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		runErr = errors.Join(runErr, err)
	}

	st := manager.Stats()
	log.Info("holo player stopped",
		zap.Uint32("frames", st.Frame),
		zap.Int64("updates", st.TotalUpdates),
		zap.Int64("dropped", st.DroppedCount),
		zap.Int64("culled", st.CulledCount),
		zap.Int64("failed", st.FailedCount),
	)
	return runErr
}

func newManager(cfg *config.Config, log *zap.Logger) holo_manager.Manager {
	pool := memory_pool.NewMemoryPool(
		memory_pool.WithBlockGranularity(cfg.Memory.BlockSize),
		memory_pool.WithMaxTotalBytes(cfg.Memory.MaxTotalBytes),
		memory_pool.WithLogger(log.Named("memory_pool")),
	)
	return holo_manager.NewManager(
		holo_manager.WithLogger(log.Named("holo_manager")),
		holo_manager.WithSettings(cfg.Settings()),
		holo_manager.WithMaxLOD(cfg.Manager.MaxLOD),
		holo_manager.WithMemoryPool(pool),
		holo_manager.WithCleanupInterval(cfg.Memory.CleanupInterval),
		holo_manager.WithDispatcherOptions(
			work_dispatcher.WithWorkers(cfg.Workers.Count),
			work_dispatcher.WithRequestPoolSize(cfg.Workers.RequestPoolSize),
			work_dispatcher.WithIdleTimeout(cfg.Workers.IdleTimeout),
		),
	)
}

// bindInput maps keys to camera and scheduler controls. Callbacks run on the window thread.
func bindInput(win window.Window, cam camera.Camera, gpu renderer.Renderer, manager holo_manager.Manager, actors []game_object.GameObject, log *zap.Logger) {
	ctrl := cam.Controller()

	win.SetResizeCallback(func(width, height int) {
		if height > 0 {
			cam.SetAspect(float32(width) / float32(height))
		}
		gpu.ConfigureSurface(width, height)
	})
	win.SetScrollCallback(func(delta float32) {
		ctrl.Zoom(delta)
	})

	toggle := func(name string, apply func(s *holo_manager.Settings) bool) {
		s := manager.Settings()
		on := apply(&s)
		manager.Configure(s)
		log.Info("setting toggled", zap.String("setting", name), zap.Bool("enabled", on))
	}

	win.SetKeyDownCallback(func(key uint32) {
		switch key {
		case common.KeyW:
			ctrl.OrbitUp()
		case common.KeyS:
			ctrl.OrbitDown()
		case common.KeyA:
			ctrl.OrbitLeft()
		case common.KeyD:
			ctrl.OrbitRight()
		case common.KeyE:
			ctrl.Zoom(1)
		case common.KeyQ:
			ctrl.Zoom(-1)
		case common.KeyC:
			toggle("frustum_culling", func(s *holo_manager.Settings) bool {
				s.FrustumCulling = !s.FrustumCulling
				return s.FrustumCulling
			})
		case common.KeyI:
			toggle("immediate_mode", func(s *holo_manager.Settings) bool {
				s.ImmediateMode = !s.ImmediateMode
				return s.ImmediateMode
			})
		case common.KeyP:
			toggle("editor_preview", func(s *holo_manager.Settings) bool {
				s.EditorPreview = !s.EditorPreview
				if s.EditorPreview {
					manager.EndPlaySession()
				} else {
					manager.BeginPlaySession()
				}
				return s.EditorPreview
			})
		case common.KeyF:
			manager.FreeUnusedMemory()
			log.Info("freed unused memory")
		case common.KeyH:
			for _, a := range actors {
				a.SetHidden(!a.Hidden())
			}
		case common.KeyL, common.KeySpace:
			for _, a := range actors {
				p := a.Player()
				if p == nil {
					continue
				}
				if key == common.KeyL {
					p.SetLooping(true)
				} else if p.Playing() {
					p.Pause()
				} else {
					p.Play()
				}
			}
		}
	})
}
