// Package world loads every chunk of a level's region directory.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/syncmap"

	"github.com/astei/chowder/chunk"
	"github.com/astei/chowder/nbt"
	"github.com/astei/chowder/region"
)

// ChunkCoord is an absolute chunk position.
type ChunkCoord struct {
	X int
	Z int
}

type Options struct {
	// Concurrency bounds how many region files are read at once; zero means one per file.
	Concurrency int
	// MaxChunkSize bounds each decompressed chunk; zero means region.DefaultMaxChunkSize.
	MaxChunkSize int
	// KeepEmpty keeps sections holding only air and chunks left without sections.
	KeepEmpty bool
	// Logger is used for progress messages. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// World holds the decoded chunks of a level. It is safe for concurrent use.
type World struct {
	chunks syncmap.Map
	count  atomic.Int64
}

// Open reads every r.X.Z.mca file in dir. The first failing chunk aborts the load and cancels the
// remaining readers.
func Open(ctx context.Context, dir string, opts Options) (*World, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	world := &World{}
	group, ctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		group.SetLimit(opts.Concurrency)
	}
	for _, entry := range entries {
		regionX, regionZ, ok := region.ParseName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		logger.Debug("discovered region file", "path", path)

		group.Go(func() error {
			loaded, err := world.loadRegion(ctx, path, regionX, regionZ, opts)
			if err != nil {
				return err
			}
			logger.Debug("read region file", "path", path, "chunks", loaded)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	logger.Info("loaded world", "dir", dir, "chunks", world.Len())
	return world, nil
}

func (w *World) loadRegion(ctx context.Context, path string, regionX, regionZ int, opts Options) (int, error) {
	reader, err := region.Open(path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	decompressor := region.Decompressor{MaxSize: opts.MaxChunkSize}
	loaded := 0
	for _, pos := range reader.Chunks() {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		x, z := pos[0], pos[1]
		data, err := reader.ReadChunkInto(&decompressor, x, z)
		if err != nil {
			return loaded, fmt.Errorf("could not read chunk %d,%d in %s: %w", x, z, path, err)
		}
		c, err := chunk.Parse(nbt.NewReader(data))
		if err != nil {
			return loaded, fmt.Errorf("could not decode chunk %d,%d in %s: %w", x, z, path, err)
		}

		if !opts.KeepEmpty {
			c.Sections = dropAir(c.Sections)
			if len(c.Sections) == 0 {
				continue
			}
		}
		w.Store(ChunkCoord{X: regionX*region.Width + x, Z: regionZ*region.Width + z}, c)
		loaded++
	}
	return loaded, nil
}

// dropAir removes sections that contain nothing but air.
func dropAir(sections []chunk.Section) []chunk.Section {
	kept := sections[:0]
	for _, s := range sections {
		if !onlyAir(&s) {
			kept = append(kept, s)
		}
	}
	return kept
}

func onlyAir(s *chunk.Section) bool {
	for _, key := range s.Palette {
		if key != "minecraft:air" && key != "minecraft:cave_air" && key != "minecraft:void_air" {
			return false
		}
	}
	return true
}

// Store adds or replaces the chunk at coord.
func (w *World) Store(coord ChunkCoord, c *chunk.Chunk) {
	if _, loaded := w.chunks.LoadOrStore(coord, c); loaded {
		w.chunks.Store(coord, c)
		return
	}
	w.count.Add(1)
}

func (w *World) Chunk(coord ChunkCoord) (*chunk.Chunk, bool) {
	c, ok := w.chunks.Load(coord)
	if !ok {
		return nil, false
	}
	return c.(*chunk.Chunk), true
}

func (w *World) Len() int {
	return int(w.count.Load())
}

// Coords lists the position of every chunk, sorted by z and then x.
func (w *World) Coords() []ChunkCoord {
	coords := make([]ChunkCoord, 0, w.Len())
	w.chunks.Range(func(key, _ interface{}) bool {
		coords = append(coords, key.(ChunkCoord))
		return true
	})
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Z != coords[j].Z {
			return coords[i].Z < coords[j].Z
		}
		return coords[i].X < coords[j].X
	})
	return coords
}

// Bounds returns the smallest and largest chunk positions. ok is false for an empty world.
func (w *World) Bounds() (lo, hi ChunkCoord, ok bool) {
	for i, c := range w.Coords() {
		if i == 0 {
			lo, hi = c, c
			continue
		}
		lo.X, lo.Z = min(lo.X, c.X), min(lo.Z, c.Z)
		hi.X, hi.Z = max(hi.X, c.X), max(hi.Z, c.Z)
	}
	return lo, hi, w.Len() > 0
}
