// Package viewer is the entry point for applications: it loads assets into a
// shared or private resource cache, evaluates them per frame and hands out
// bindings for drawing.
package viewer

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/binding"
	"github.com/Faultbox/gltfcache/internal/gltf"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/pkg/math"
)

var (
	// ErrLoad wraps every LoadAsset failure.
	ErrLoad         = errors.New("viewer: load failed")
	ErrUnknownAsset = errors.New("viewer: unknown asset")
)

// AssetHandle identifies a loaded asset.
type AssetHandle = uuid.UUID

// LoadOptions controls one LoadAsset call.
type LoadOptions struct {
	// UseSharedCache places the asset in the viewer's shared manager. When
	// false the asset gets a private manager closed with the asset.
	UseSharedCache bool
	ComputeBounds  bool
}

// Config sets up a Viewer.
type Config struct {
	Cache resource.Config
	// TextureMips caps the mip levels generated per texture.
	TextureMips int
	// Watch reloads assets whose file changes on disk.
	Watch bool
}

// BoundBoxMode selects how Viewer.BoundBoxTransform places the box overlay.
type BoundBoxMode uint8

const (
	BoundBoxNone BoundBoxMode = iota
	BoundBoxLocal
	BoundBoxGlobal
)

func (m BoundBoxMode) String() string {
	switch m {
	case BoundBoxLocal:
		return "local"
	case BoundBoxGlobal:
		return "global"
	}
	return "none"
}

// ParseBoundBoxMode is the inverse of BoundBoxMode.String.
func ParseBoundBoxMode(s string) (BoundBoxMode, error) {
	for _, m := range []BoundBoxMode{BoundBoxNone, BoundBoxLocal, BoundBoxGlobal} {
		if m.String() == s {
			return m, nil
		}
	}
	return BoundBoxNone, fmt.Errorf("viewer: unknown bound box mode %q", s)
}

// Viewer owns the shared resource cache and every loaded asset. It is not
// safe for concurrent use; call it from the thread that owns the device.
type Viewer struct {
	dev  gpu.Device
	cfg  Config
	log  *zap.Logger
	open func(path string) (*asset.Source, error)

	shared      *resource.Manager
	sharedCache *binding.Cache
	stopShared  func()

	assets  map[AssetHandle]*loaded
	order   []AssetHandle
	active  AssetHandle
	watcher *watcher
}

// loaded is one asset with its per-view state.
type loaded struct {
	path  string
	opts  LoadOptions
	model *asset.Model

	mgr     *resource.Manager
	cache   *binding.Cache
	private bool
	stop    func()

	scene     int
	anim      int
	timers    []float32
	playing   bool
	root      math.Mat4
	eval      *asset.Evaluator
	transform asset.Transforms
	box       math.Box
}

// New creates a viewer drawing on dev.
func New(dev gpu.Device, cfg Config) (*Viewer, error) {
	shared, err := resource.NewManager(dev, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("viewer: shared cache: %w", err)
	}
	v := &Viewer{
		dev:    dev,
		cfg:    cfg,
		log:    logger.Named("viewer"),
		open:   gltf.Open,
		shared: shared,
		assets: make(map[AssetHandle]*loaded),
	}
	v.sharedCache, v.stopShared = binding.NewForManager(shared)
	if cfg.Watch {
		if v.watcher, err = newWatcher(v.log); err != nil {
			v.Close()
			return nil, fmt.Errorf("viewer: watch: %w", err)
		}
	}
	return v, nil
}

// SetOpener replaces the file decoder, gltf.Open by default.
func (v *Viewer) SetOpener(open func(path string) (*asset.Source, error)) {
	v.open = open
}

// Shared returns the shared resource manager.
func (v *Viewer) Shared() *resource.Manager { return v.shared }

// LoadAsset decodes path and uploads it. It is atomic: on failure nothing
// stays allocated and the active asset is unchanged. A successful load
// becomes the active asset. Paths are kept in filepath.Clean form.
func (v *Viewer) LoadAsset(path string, opts LoadOptions) (AssetHandle, error) {
	path = filepath.Clean(path)
	l, err := v.load(path, opts)
	if err != nil {
		return uuid.Nil, err
	}
	h := uuid.New()
	v.assets[h] = l
	v.order = append(v.order, h)
	v.active = h
	if v.watcher != nil {
		if err := v.watcher.add(path); err != nil {
			v.log.Warn("not watching", zap.String("path", path), zap.Error(err))
		}
	}
	return h, nil
}

func (v *Viewer) load(path string, opts LoadOptions) (*loaded, error) {
	start := time.Now()
	src, err := v.open(path)
	if err != nil {
		v.log.Error("decode failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	l := &loaded{path: path, opts: opts}
	if opts.UseSharedCache {
		l.mgr, l.cache = v.shared, v.sharedCache
	} else {
		cfg := resource.PrivateConfig()
		for _, img := range src.Images {
			if img.Image != nil {
				b := img.Image.Bounds()
				cfg = cfg.FitAtlas(b.Dx(), b.Dy())
			}
		}
		if l.mgr, err = resource.NewManager(v.dev, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
		}
		l.cache, l.stop = binding.NewForManager(l.mgr)
		l.private = true
	}

	l.model, err = asset.Load(src, l.mgr, asset.LoadOptions{
		ComputeBounds: opts.ComputeBounds,
		TextureMips:   v.cfg.TextureMips,
	})
	if err != nil {
		l.closePrivate()
		v.log.Error("load failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	l.eval = l.model.NewEvaluator()
	l.timers = make([]float32, len(l.model.Animations))
	l.playing = len(l.model.Animations) > 0
	if err := l.setScene(l.model.DefaultScene); err != nil {
		_ = l.release()
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	v.log.Info("asset loaded",
		zap.String("path", path),
		zap.Bool("shared", opts.UseSharedCache),
		zap.Int("scenes", len(l.model.Scenes)),
		zap.Int("animations", len(l.model.Animations)),
		zap.Duration("took", time.Since(start)))
	return l, nil
}

func (l *loaded) closePrivate() {
	if !l.private {
		return
	}
	if l.stop != nil {
		l.stop()
	}
	l.mgr.Close()
}

func (l *loaded) release() error {
	err := l.model.Release(l.mgr)
	l.cache.Forget(l.model.Allocations)
	l.closePrivate()
	return err
}

// setScene makes scene current and recomputes the fit transform for it.
func (l *loaded) setScene(scene int) error {
	rest, err := l.model.ComputeTransforms(scene, math.Identity(), nil)
	if err != nil {
		return err
	}
	box, err := l.model.ComputeBoundingBox(scene, rest)
	if err != nil {
		return err
	}
	l.scene = scene
	l.root = FitTransform(box)
	return l.evaluate()
}

// evaluate refreshes the cached transforms at the current animation time.
func (l *loaded) evaluate() error {
	var sample *asset.AnimationSample
	if len(l.model.Animations) > 0 {
		sample = &asset.AnimationSample{Index: l.anim, Time: l.timers[l.anim]}
	}
	if err := l.eval.Evaluate(l.scene, l.root, sample, &l.transform); err != nil {
		return err
	}
	box, err := l.model.ComputeBoundingBox(l.scene, &l.transform)
	if err != nil {
		return err
	}
	l.box = box
	return nil
}

func (v *Viewer) get(h AssetHandle) (*loaded, error) {
	l, ok := v.assets[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, h)
	}
	return l, nil
}

// Evaluate computes fresh transforms and the world-space bounding box of
// scene under root. It does not touch the asset's cached frame state.
func (v *Viewer) Evaluate(h AssetHandle, scene int, root math.Mat4, anim *asset.AnimationSample) (*asset.Transforms, math.Box, error) {
	l, err := v.get(h)
	if err != nil {
		return nil, math.EmptyBox(), err
	}
	t, err := l.model.ComputeTransforms(scene, root, anim)
	if err != nil {
		v.log.Warn("evaluate", zap.Stringer("asset", h), zap.Error(err))
		return nil, math.EmptyBox(), err
	}
	box, err := l.model.ComputeBoundingBox(scene, t)
	if err != nil {
		return nil, math.EmptyBox(), err
	}
	return t, box, nil
}

// AcquireBindings returns the binding set of h's allocations for pipeline.
func (v *Viewer) AcquireBindings(pipeline binding.PipelineKey, h AssetHandle) (*binding.BindingSet, error) {
	l, err := v.get(h)
	if err != nil {
		return nil, err
	}
	return l.cache.Acquire(pipeline, l.model.Allocations)
}

// ReleaseAsset returns every region of h and forgets it.
func (v *Viewer) ReleaseAsset(h AssetHandle) error {
	l, err := v.get(h)
	if err != nil {
		return err
	}
	delete(v.assets, h)
	v.order = slices.DeleteFunc(v.order, func(o AssetHandle) bool { return o == h })
	if v.active == h {
		v.active = uuid.Nil
	}
	if v.watcher != nil {
		v.watcher.remove(l.path)
	}
	v.log.Info("asset released", zap.String("path", l.path))
	return l.release()
}

// Active returns the asset Update animates, or uuid.Nil.
func (v *Viewer) Active() AssetHandle { return v.active }

// SetActive makes h the asset Update animates.
func (v *Viewer) SetActive(h AssetHandle) error {
	if _, err := v.get(h); err != nil {
		return err
	}
	v.active = h
	return nil
}

// Model returns the immutable model of h.
func (v *Viewer) Model(h AssetHandle) (*asset.Model, error) {
	l, err := v.get(h)
	if err != nil {
		return nil, err
	}
	return l.model, nil
}

// Frame returns h's transforms and world-space box as of the last Update.
// The transforms are reused by the next Update.
func (v *Viewer) Frame(h AssetHandle) (*asset.Transforms, math.Box, error) {
	l, err := v.get(h)
	if err != nil {
		return nil, math.EmptyBox(), err
	}
	return &l.transform, l.box, nil
}

// Path returns the file h was loaded from.
func (v *Viewer) Path(h AssetHandle) (string, error) {
	l, err := v.get(h)
	if err != nil {
		return "", err
	}
	return l.path, nil
}

// RootTransform returns the fit transform applied to h's current scene.
func (v *Viewer) RootTransform(h AssetHandle) (math.Mat4, error) {
	l, err := v.get(h)
	if err != nil {
		return math.Identity(), err
	}
	return l.root, nil
}

// Update reloads changed files and advances the active asset's animation.
func (v *Viewer) Update(elapsed time.Duration) error {
	var err error
	if v.watcher != nil {
		for _, path := range v.watcher.drain() {
			err = multierr.Append(err, v.Reload(path))
		}
	}

	l, ok := v.assets[v.active]
	if !ok || !l.playing || len(l.model.Animations) == 0 {
		return err
	}
	end := l.model.Animations[l.anim].End
	t := l.timers[l.anim] + float32(elapsed.Seconds())
	if end > 0 {
		t = math32.Mod(t, end)
	} else {
		t = 0
	}
	l.timers[l.anim] = t
	return multierr.Append(err, l.evaluate())
}

// Reload loads path again for every asset using it. Each asset keeps its
// handle; if the new load fails the old model stays.
func (v *Viewer) Reload(path string) error {
	path = filepath.Clean(path)
	var err error
	for h, old := range v.assets {
		if old.path != path {
			continue
		}
		fresh, lerr := v.load(path, old.opts)
		if lerr != nil {
			err = multierr.Append(err, lerr)
			continue
		}
		v.assets[h] = fresh
		if rerr := old.release(); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		v.log.Info("asset reloaded", zap.String("path", path), zap.Stringer("asset", h))
	}
	return err
}

// SetScene switches h to scene, resetting the fit transform.
func (v *Viewer) SetScene(h AssetHandle, scene int) error {
	l, err := v.get(h)
	if err != nil {
		return err
	}
	return l.setScene(scene)
}

// SetAnimation selects the animation Update advances. Each animation keeps
// its own timer.
func (v *Viewer) SetAnimation(h AssetHandle, anim int) error {
	l, err := v.get(h)
	if err != nil {
		return err
	}
	if anim < 0 || anim >= len(l.model.Animations) {
		return fmt.Errorf("animation %d of %d: %w", anim, len(l.model.Animations), asset.ErrInvalidAnimationIndex)
	}
	l.anim = anim
	return l.evaluate()
}

// SetPlaying starts or pauses h's animation clock.
func (v *Viewer) SetPlaying(h AssetHandle, playing bool) error {
	l, err := v.get(h)
	if err != nil {
		return err
	}
	l.playing = playing && len(l.model.Animations) > 0
	return nil
}

// AnimationTime returns the current timer of h's selected animation.
func (v *Viewer) AnimationTime(h AssetHandle) (float32, error) {
	l, err := v.get(h)
	if err != nil {
		return 0, err
	}
	if len(l.timers) == 0 {
		return 0, nil
	}
	return l.timers[l.anim], nil
}

// State is the view selection of one asset.
type State struct {
	Scene     int
	Animation int
	Playing   bool
}

// State returns h's view selection.
func (v *Viewer) State(h AssetHandle) (State, error) {
	l, err := v.get(h)
	if err != nil {
		return State{}, err
	}
	return State{Scene: l.scene, Animation: l.anim, Playing: l.playing}, nil
}

// Cameras lists the perspective camera nodes of h's current scene.
func (v *Viewer) Cameras(h AssetHandle) ([]int, error) {
	l, err := v.get(h)
	if err != nil {
		return nil, err
	}
	return l.model.Scenes[l.scene].Cameras, nil
}

// CameraView returns the view matrix of the i-th camera node of h's scene
// and its camera. glTF cameras look down -Z; the view flips Z.
func (v *Viewer) CameraView(h AssetHandle, i int) (math.Mat4, asset.Camera, error) {
	l, err := v.get(h)
	if err != nil {
		return math.Identity(), asset.Camera{}, err
	}
	cams := l.model.Scenes[l.scene].Cameras
	if i < 0 || i >= len(cams) {
		return math.Identity(), asset.Camera{}, fmt.Errorf("viewer: camera %d of %d", i, len(cams))
	}
	node := cams[i]
	view := math.Scale(1, 1, -1).Mul(l.transform.NodeGlobal[node].Inverse())
	return view, l.model.Cameras[l.model.Nodes[node].Camera], nil
}

// BoundBoxTransform maps the unit cube onto h's bounding box. Local follows
// model; Global is the axis-aligned box after model. ok is false for
// BoundBoxNone or an empty box.
func (v *Viewer) BoundBoxTransform(h AssetHandle, mode BoundBoxMode, model math.Mat4) (m math.Mat4, ok bool, err error) {
	l, err := v.get(h)
	if err != nil {
		return math.Identity(), false, err
	}
	if l.box.IsEmpty() {
		return math.Identity(), false, nil
	}
	switch mode {
	case BoundBoxLocal:
		return model.Mul(math.TranslateV(l.box.Min)).Mul(math.ScaleV(l.box.Size())), true, nil
	case BoundBoxGlobal:
		b := l.box.Transform(model)
		return math.TranslateV(b.Min).Mul(math.ScaleV(b.Size())), true, nil
	}
	return math.Identity(), false, nil
}

// FitTransform centers box at the origin, scales its largest side to 0.5 and
// flips Y.
func FitTransform(box math.Box) math.Mat4 {
	if box.IsEmpty() {
		return math.Scale(1, -1, 1)
	}
	dim := box.Size()
	s := 0.5 / max(dim.MaxComponent(), 0.01)
	t := box.Min.Neg().Sub(dim.Scale(0.5))
	return math.Scale(1, -1, 1).Mul(math.Scale(s, s, s)).Mul(math.TranslateV(t))
}

// PipelineFor returns the pipeline a model's draw needs under name.
func PipelineFor(name string, m *asset.Model) binding.PipelineKey {
	var flags binding.Flags
	if len(m.Allocations.Textures) > 0 {
		flags = flags.With(binding.FlagTextureAtlas | binding.FlagTexCoord0)
	}
	if len(m.Skins) > 0 {
		flags = flags.With(binding.FlagJoints)
	}
	for _, mesh := range m.Meshes {
		for _, p := range mesh.Primitives {
			if p.HasColors {
				flags = flags.With(binding.FlagVertexColors)
			}
		}
	}
	for _, mat := range m.Materials {
		if mat.AlphaMode == asset.AlphaMask {
			flags = flags.With(binding.FlagAlphaMask)
		}
	}
	return binding.PipelineKey{Name: name, Flags: flags}
}

// CacheStats reports the resource manager and binding cache h lives in. For
// shared assets these are the shared cache's numbers.
func (v *Viewer) CacheStats(h AssetHandle) (resource.Stats, binding.Stats, error) {
	l, err := v.get(h)
	if err != nil {
		return resource.Stats{}, binding.Stats{}, err
	}
	return l.mgr.Stats(), l.cache.Stats(), nil
}

// Handles lists every loaded asset in load order.
func (v *Viewer) Handles() []AssetHandle {
	return slices.Clone(v.order)
}

// Close releases every asset and the shared cache.
func (v *Viewer) Close() error {
	var err error
	for _, h := range v.Handles() {
		err = multierr.Append(err, v.ReleaseAsset(h))
	}
	if v.watcher != nil {
		err = multierr.Append(err, v.watcher.close())
		v.watcher = nil
	}
	if v.stopShared != nil {
		v.stopShared()
	}
	v.shared.Close()
	return err
}
