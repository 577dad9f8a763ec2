// gltfinspect loads glTF files into an in-memory device and reports what the
// resource cache made of them. It needs no window or GPU.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Faultbox/gltfcache/internal/asset"
	"github.com/Faultbox/gltfcache/internal/binding"
	"github.com/Faultbox/gltfcache/internal/gpu/memgpu"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/internal/viewer"
	"github.com/Faultbox/gltfcache/pkg/math"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "info":
		err = cmdInfo(args)
	case "stats":
		err = cmdStats(args)
	case "bounds":
		err = cmdBounds(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`gltfinspect - glTF resource cache inspector

Usage:
  gltfinspect <command> [options]

Commands:
  info <file.gltf>                       Show model contents
  stats [-private] <file.gltf>...        Load files and show cache usage
  bounds [-scene n] [-anim i] [-t s] <file.gltf>
                                         Show the bounding box at a time

Examples:
  gltfinspect info Box.gltf
  gltfinspect stats -private Fox.glb Duck.glb
  gltfinspect bounds -anim 1 -t 0.5 Fox.glb`)
}

// newViewer returns a viewer on an in-memory device. Logging stays quiet
// unless something fails.
func newViewer() (*viewer.Viewer, error) {
	if err := logger.Init("warn", ""); err != nil {
		return nil, err
	}
	return viewer.New(memgpu.New(), viewer.Config{
		Cache:       resource.DefaultConfig(),
		TextureMips: 6,
	})
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: gltfinspect info <file.gltf>")
	}
	v, err := newViewer()
	if err != nil {
		return err
	}
	defer v.Close()

	h, err := v.LoadAsset(args[0], viewer.LoadOptions{UseSharedCache: true})
	if err != nil {
		return err
	}
	m, err := v.Model(h)
	if err != nil {
		return err
	}

	prims, verts, indices := 0, 0, 0
	for _, mesh := range m.Meshes {
		for _, p := range mesh.Primitives {
			prims++
			verts += p.VertexCount
			indices += p.IndexCount
		}
	}

	fmt.Printf("Model:      %s\n", m.Name)
	fmt.Printf("Nodes:      %d\n", len(m.Nodes))
	fmt.Printf("Meshes:     %d (%d primitives, %d vertices, %d indices)\n", len(m.Meshes), prims, verts, indices)
	fmt.Printf("Materials:  %d\n", len(m.Materials))
	fmt.Printf("Textures:   %d\n", len(m.Textures))
	fmt.Printf("Skins:      %d\n", len(m.Skins))
	fmt.Printf("Cameras:    %d\n", len(m.Cameras))
	fmt.Printf("Pipeline:   %s\n", viewer.PipelineFor("mesh", m))
	fmt.Println()

	fmt.Println("Scenes:")
	for i, s := range m.Scenes {
		mark := " "
		if i == m.DefaultScene {
			mark = "*"
		}
		fmt.Printf(" %s%2d %-20s %d roots, %d nodes, %d cameras\n", mark, i, s.Name, len(s.Roots), len(s.Linear), len(s.Cameras))
	}

	if len(m.Animations) > 0 {
		fmt.Println()
		fmt.Println("Animations:")
		for i, a := range m.Animations {
			fmt.Printf("  %2d %-20s %d channels, %.3fs\n", i, a.Name, len(a.Channels), a.End)
		}
	}
	return nil
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	private := fs.Bool("private", false, "Give every file its own cache")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: gltfinspect stats [-private] <file.gltf>...")
	}
	v, err := newViewer()
	if err != nil {
		return err
	}
	defer v.Close()

	for _, path := range fs.Args() {
		start := time.Now()
		h, err := v.LoadAsset(path, viewer.LoadOptions{UseSharedCache: !*private})
		if err != nil {
			return err
		}
		took := time.Since(start)
		m, _ := v.Model(h)
		if _, err := v.AcquireBindings(viewer.PipelineFor("mesh", m), h); err != nil {
			return err
		}
		fmt.Printf("%s: loaded in %v\n", path, took.Round(time.Microsecond))
		if *private {
			res, bind, err := v.CacheStats(h)
			if err != nil {
				return err
			}
			printStats(res, bind)
		}
	}
	if !*private {
		res, bind, err := v.CacheStats(v.Active())
		if err != nil {
			return err
		}
		fmt.Println("Shared cache:")
		printStats(res, bind)
	}
	return nil
}

func printStats(res resource.Stats, bind binding.Stats) {
	fmt.Printf("  version %d\n", res.Version)
	fmt.Printf("  %-24s %10d / %10d bytes, %d regions, %d free ranges\n",
		res.Index.Name, res.Index.Used, res.Index.Capacity, res.Index.Live, res.Index.FreeRanges)
	for _, p := range res.Pools {
		fmt.Printf("  %-24s %10d / %10d vertices, %d regions, largest free %d\n",
			p.Name, p.Used, p.Capacity, p.Live, p.LargestFree)
	}
	for _, a := range res.Atlases {
		fmt.Printf("  %-24s %s, %d/%d slices, %d regions, %d texels\n",
			a.Name, a.Format, a.Slices, a.MaxSlices, a.Live, a.UsedTexels)
	}
	fmt.Printf("  bindings: %d entries, %d hits, %d misses, %d invalidations\n",
		bind.Entries, bind.Hits, bind.Misses, bind.Invalidations)
}

func cmdBounds(args []string) error {
	fs := flag.NewFlagSet("bounds", flag.ExitOnError)
	scene := fs.Int("scene", -1, "Scene index (-1 = default)")
	anim := fs.Int("anim", -1, "Animation index (-1 = rest pose)")
	at := fs.Float64("t", 0, "Animation time in seconds")
	computed := fs.Bool("compute_bounds", false, "Recompute bounds from vertex positions")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: gltfinspect bounds [-scene n] [-anim i] [-t s] <file.gltf>")
	}
	v, err := newViewer()
	if err != nil {
		return err
	}
	defer v.Close()

	h, err := v.LoadAsset(fs.Arg(0), viewer.LoadOptions{UseSharedCache: true, ComputeBounds: *computed})
	if err != nil {
		return err
	}
	m, _ := v.Model(h)
	if *scene < 0 {
		*scene = m.DefaultScene
	}
	var sample *asset.AnimationSample
	if *anim >= 0 {
		sample = &asset.AnimationSample{Index: *anim, Time: float32(*at)}
	}

	_, box, err := v.Evaluate(h, *scene, math.Identity(), sample)
	if err != nil {
		return err
	}
	if box.IsEmpty() {
		fmt.Println("empty")
		return nil
	}
	fmt.Printf("min:    %v\n", box.Min)
	fmt.Printf("max:    %v\n", box.Max)
	fmt.Printf("size:   %v\n", box.Size())
	fmt.Printf("center: %v\n", box.Center())
	return nil
}
