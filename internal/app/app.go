// Package app implements the interactive viewer: window, input, per-frame
// update and drawing of the active asset.
package app

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/chewxy/math32"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/config"
	"github.com/Faultbox/gltfcache/internal/engine/camera"
	"github.com/Faultbox/gltfcache/internal/engine/debug"
	"github.com/Faultbox/gltfcache/internal/engine/input"
	"github.com/Faultbox/gltfcache/internal/engine/renderer"
	"github.com/Faultbox/gltfcache/internal/engine/window"
	"github.com/Faultbox/gltfcache/internal/gpu/glgpu"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/viewer"
	"github.com/Faultbox/gltfcache/pkg/math"
)

// pipelineName is the binding cache key of the mesh shader family.
const pipelineName = "mesh"

var boxColor = [4]float32{1, 0.8, 0.1, 1}

// yUp undoes the Y flip of viewer.FitTransform for the orbit camera.
var yUp = math.Scale(1, -1, 1)

// App is the viewer application.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	running  bool
	window   *window.Window
	renderer *renderer.Renderer
	input    *input.Input
	viewer   *viewer.Viewer

	orbit   *camera.OrbitCamera
	views   viewSelector
	boxMode viewer.BoundBoxMode
	shots   string
}

// New opens the window and loads cfg.Viewer.Models.
func New(cfg *config.Config) (*App, error) {
	boxMode, err := viewer.ParseBoundBoxMode(cfg.Viewer.BoundBox)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		log:     logger.Named("app"),
		orbit:   camera.NewOrbitCamera(),
		boxMode: boxMode,
		shots:   "screenshots",
	}

	// Create window (this also creates OpenGL context)
	a.window, err = window.New(window.Config{
		Title:      cfg.Window.Title,
		Width:      cfg.Window.Width,
		Height:     cfg.Window.Height,
		Fullscreen: cfg.Window.Fullscreen,
		VSync:      cfg.Window.VSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	dev, err := glgpu.New()
	if err != nil {
		a.Close()
		return nil, err
	}

	width, height := a.window.DrawableSize()
	a.renderer, err = renderer.New(renderer.Config{
		Width:      width,
		Height:     height,
		Background: cfg.Viewer.Background,
		LightDir:   cfg.Viewer.Sun.Travel(),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	a.viewer, err = viewer.New(dev, viewer.Config{
		Cache:       cfg.Cache,
		TextureMips: cfg.Viewer.TextureMips,
		Watch:       cfg.Viewer.Watch,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.input = input.New()

	for _, path := range cfg.Viewer.Models {
		a.load(path)
	}
	a.log.Info("viewer initialized",
		zap.Int("assets", len(a.viewer.Handles())),
		zap.Stringer("bound_box", a.boxMode))
	return a, nil
}

// load keeps running when path fails; the previous asset stays active.
func (a *App) load(path string) {
	h, err := a.viewer.LoadAsset(path, viewer.LoadOptions{
		UseSharedCache: a.cfg.Viewer.UseSharedCache,
		ComputeBounds:  a.cfg.Viewer.ComputeBounds,
	})
	if err != nil {
		a.log.Error("load failed", zap.String("path", path), zap.Error(err))
		return
	}
	a.activate(h)
}

// activate frames h with the orbit camera.
func (a *App) activate(h viewer.AssetHandle) {
	a.views.reset()
	if _, box, err := a.viewer.Frame(h); err == nil {
		a.orbit.FitToBox(box.Transform(yUp))
	}
	title := a.cfg.Window.Title
	if m, err := a.viewer.Model(h); err == nil && m.Name != "" {
		title = fmt.Sprintf("%s - %s", title, m.Name)
	}
	a.window.SetTitle(title)
}

// Run starts the main loop.
func (a *App) Run() error {
	a.running = true

	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	a.log.Info("starting main loop")

	for a.running {
		now := time.Now()
		dt := now.Sub(lastTime)
		lastTime = now

		if a.input.Update() {
			a.running = false
			break
		}
		for _, event := range a.input.Events() {
			a.handle(event)
		}

		if err := a.viewer.Update(dt); err != nil {
			a.log.Warn("update failed", zap.Error(err))
		}

		if err := a.render(); err != nil {
			return fmt.Errorf("render error: %w", err)
		}
		// Read back before the swap leaves the back buffer undefined.
		if a.input.IsKeyPressed(sdl.SCANCODE_F12) {
			a.screenshot()
		}
		a.window.SwapBuffers()

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			st := a.viewer.Shared().Stats()
			a.log.Debug("frame stats",
				zap.Int("fps", frameCount),
				zap.Int("pools", len(st.Pools)),
				zap.Int("atlases", len(st.Atlases)),
				zap.Uint64("cache_version", st.Version))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}

	return nil
}

func (a *App) handle(e input.Event) {
	switch e.Type {
	case input.EventWindowResize:
		a.renderer.Resize(a.window.DrawableSize())
	case input.EventMouseDrag:
		a.views.reset()
		a.orbit.HandleDrag(e.DX, e.DY)
	case input.EventMouseWheel:
		a.orbit.HandleZoom(e.DY)
	case input.EventDropFile:
		a.load(e.Path)
	case input.EventKeyDown:
		if err := a.key(e.Key); err != nil {
			a.log.Warn("key action failed",
				zap.String("key", sdl.GetScancodeName(e.Key)),
				zap.Error(err))
		}
	}
}

// key runs the keyboard binding for sc on the active asset.
func (a *App) key(sc sdl.Scancode) error {
	h := a.viewer.Active()
	switch sc {
	case sdl.SCANCODE_TAB:
		return a.nextAsset(h)
	case sdl.SCANCODE_F1:
		lvl := "debug"
		if logger.Level() == zapcore.DebugLevel {
			lvl = "info"
			if a.cfg.Logging.Level != "debug" {
				lvl = a.cfg.Logging.Level
			}
		}
		return logger.SetLevel(lvl)
	case sdl.SCANCODE_F5:
		return a.saveConfig()
	}
	m, err := a.viewer.Model(h)
	if err != nil {
		// Nothing loaded.
		return nil
	}
	st, err := a.viewer.State(h)
	if err != nil {
		return err
	}

	switch sc {
	case sdl.SCANCODE_SPACE:
		return a.viewer.SetPlaying(h, !st.Playing)
	case sdl.SCANCODE_N:
		if err := a.viewer.SetScene(h, (st.Scene+1)%len(m.Scenes)); err != nil {
			return err
		}
		a.activate(h)
	case sdl.SCANCODE_A:
		if len(m.Animations) > 0 {
			return a.viewer.SetAnimation(h, (st.Animation+1)%len(m.Animations))
		}
	case sdl.SCANCODE_C:
		cams, err := a.viewer.Cameras(h)
		if err != nil {
			return err
		}
		a.views.next(len(cams))
	case sdl.SCANCODE_B:
		a.boxMode = (a.boxMode + 1) % (viewer.BoundBoxGlobal + 1)
		a.log.Info("bound box", zap.Stringer("mode", a.boxMode))
	case sdl.SCANCODE_R:
		path, err := a.viewer.Path(h)
		if err != nil {
			return err
		}
		if err := a.viewer.Reload(path); err != nil {
			return err
		}
		a.activate(h)
	case sdl.SCANCODE_DELETE:
		err := a.viewer.ReleaseAsset(h)
		if hs := a.viewer.Handles(); len(hs) > 0 {
			err = multierr.Append(err, a.viewer.SetActive(hs[len(hs)-1]))
			a.activate(hs[len(hs)-1])
		}
		return err
	}
	return nil
}

// nextAsset activates the asset loaded after h, wrapping around.
func (a *App) nextAsset(h viewer.AssetHandle) error {
	hs := a.viewer.Handles()
	if len(hs) == 0 {
		return nil
	}
	next := hs[(slices.Index(hs, h)+1)%len(hs)]
	if err := a.viewer.SetActive(next); err != nil {
		return err
	}
	a.activate(next)
	return nil
}

// viewProj returns the projection-view of the selected camera. Fitted models
// are Y-down: the orbit path flips Y back, while a camera node's inverse
// global already undoes the fit.
func (a *App) viewProj(h viewer.AssetHandle) (math.Mat4, error) {
	aspect := a.renderer.Aspect()
	if i, ok := a.views.camera(); ok {
		view, cam, err := a.viewer.CameraView(h, i)
		if err != nil {
			return math.Identity(), err
		}
		return cameraProjection(cam, aspect).Mul(math.Scale(1, 1, -1)).Mul(view), nil
	}
	return a.orbit.Projection(aspect).Mul(a.orbit.ViewMatrix()).Mul(yUp), nil
}

// cameraProjection builds the projection of a glTF camera. An infinite far
// plane is clamped.
func cameraProjection(cam asset.Camera, aspect float32) math.Mat4 {
	near := max(cam.ZNear, 0.001)
	far := cam.ZFar
	if far <= near || math32.IsInf(far, 1) {
		far = near * 1e5
	}
	if cam.Projection == asset.Orthographic {
		return math.Orthographic(cam.XMag, cam.YMag, near, far)
	}
	if cam.Aspect > 0 {
		aspect = cam.Aspect
	}
	return math.Perspective(cam.YFov, aspect, near, far)
}

func (a *App) render() error {
	a.renderer.Begin()

	h := a.viewer.Active()
	m, err := a.viewer.Model(h)
	if err != nil {
		return nil
	}
	set, err := a.viewer.AcquireBindings(viewer.PipelineFor(pipelineName, m), h)
	if err != nil {
		return err
	}
	transforms, _, err := a.viewer.Frame(h)
	if err != nil {
		return err
	}
	st, err := a.viewer.State(h)
	if err != nil {
		return err
	}
	vp, err := a.viewProj(h)
	if err != nil {
		// The camera went away with a scene switch or reload.
		a.views.reset()
		vp, _ = a.viewProj(h)
	}

	if err := a.renderer.DrawModel(renderer.Draw{
		Model:      m,
		Bindings:   set,
		Transforms: transforms,
		Scene:      st.Scene,
		ViewProj:   vp,
	}); err != nil {
		return err
	}

	box, ok, err := a.viewer.BoundBoxTransform(h, a.boxMode, math.Identity())
	if err != nil {
		return err
	}
	if ok {
		a.renderer.DrawBox(vp.Mul(box), boxColor)
	}
	return nil
}

func (a *App) screenshot() {
	pixels, w, h := a.renderer.ReadPixels()
	img, err := debug.FlipRGBA(pixels, w, h)
	if err != nil {
		a.log.Error("screenshot failed", zap.Error(err))
		return
	}
	name := "gltfviewer"
	if m, err := a.viewer.Model(a.viewer.Active()); err == nil && m.Name != "" {
		name = filepath.Base(m.Name)
	}
	path, err := debug.SaveScreenshot(a.shots, name, time.Now(), img)
	if err != nil {
		a.log.Error("screenshot failed", zap.Error(err))
		return
	}
	a.log.Info("screenshot saved", zap.String("path", path))
}

// saveConfig stores the current overlay mode and loaded files as the user's
// config.
func (a *App) saveConfig() error {
	a.cfg.Viewer.BoundBox = a.boxMode.String()
	a.cfg.Viewer.Models = a.cfg.Viewer.Models[:0]
	for _, h := range a.viewer.Handles() {
		if path, err := a.viewer.Path(h); err == nil {
			a.cfg.Viewer.Models = append(a.cfg.Viewer.Models, path)
		}
	}
	if err := a.cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	a.log.Info("config saved", zap.String("dir", config.ConfigDir()))
	return nil
}

// Close releases all resources in reverse creation order.
func (a *App) Close() {
	a.log.Info("shutting down")

	if a.viewer != nil {
		if err := a.viewer.Close(); err != nil {
			a.log.Warn("release failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.window != nil {
		a.window.Close()
	}
}
