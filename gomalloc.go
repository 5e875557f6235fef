// Package gomalloc is a tiered, multi-thread-friendly heap allocator
// backed directly by OS virtual memory (no libc, no cgo). Allocations
// are routed by size into one of four tiers — tiny, small, medium, and
// large — each with its own backing structure and locking discipline;
// see the internal/arena, internal/medium, and internal/large packages.
//
// Most callers should use the package-level Alloc/Free/Realloc/...
// functions, which lazily create a shared default Heap on first use.
// Programs that want an isolated heap (tests, or a second namespace
// dedicated to one workload) can call New directly.
package gomalloc

import (
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/arena"
	"github.com/shenjiangwei/gomalloc/internal/large"
	"github.com/shenjiangwei/gomalloc/internal/medium"
	"github.com/shenjiangwei/gomalloc/internal/obslog"
	"github.com/shenjiangwei/gomalloc/internal/sizeclass"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

// maxMediumPayload is the largest request the medium tier's bin array
// can index: MinMedium plus 1023 further 256 B bins (spec.md §3's
// "≤~260 KB" medium-tier ceiling). Anything larger goes to the large
// tier.
const maxMediumPayload = medium.MinMedium + 1023*256

// Config selects the allocator's compile-time behavior (spec.md §6).
// Unlike the spec's C-style preprocessor toggles, these are ordinary
// runtime fields — set once when building a Heap.
type Config struct {
	// Server asserts a multi-threaded, long-running workload. New does
	// not read it, so it has no effect on the Heap.
	Server bool
	// Boost raises the tiny-tier ceiling from 128 B to 256 B.
	Boost bool
	// Booster widens 7 extra tiny arenas to 127 and switches arena
	// selection to per-thread hashing instead of round-robin.
	Booster bool
	// PerThread opts into hashed arena selection without the rest of
	// Booster's changes.
	PerThread bool
	// NoRemap disables in-place large-block grow (Linux remap /
	// Windows adjacent-reserve); realloc always falls back to
	// alloc+copy+free.
	NoRemap bool
	// Debug raises the internal logger to its most verbose level.
	Debug bool
	// ReportLeaks walks every tier at Shutdown and logs any block still
	// in use.
	ReportLeaks bool
}

// Heap is one independent allocator instance: its own statistics, its
// own medium-tier namespace, its own large-block list, and its own
// tiny/small arenas. The package-level functions operate on a lazily
// constructed default Heap; most programs never need to call New
// themselves.
type Heap struct {
	cfg    Config
	global *stats.Global
	medium *medium.Info
	large  *large.Allocator
	arenas *arena.Arenas
}

// New builds an empty Heap per cfg. There is no OS-level teardown to
// reverse — Shutdown only matters for optional leak reporting — so a
// Heap that falls out of scope without an explicit Shutdown simply
// stops being used; its super-pools and large blocks remain mapped
// until the process exits.
func New(cfg Config) *Heap {
	if cfg.Debug {
		obslog.SetLevel(obslog.LevelDebug)
	}
	g := stats.NewGlobal(sizeclass.NumClasses)
	m := medium.New(g)
	return &Heap{
		cfg:    cfg,
		global: g,
		medium: m,
		large:  large.New(g, cfg.NoRemap),
		arenas: arena.New(g, m, arena.Config{
			Boost:     cfg.Boost,
			Booster:   cfg.Booster,
			PerThread: cfg.PerThread,
		}),
	}
}

func copyBytes(dst, src unsafe.Pointer, n uint64) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
