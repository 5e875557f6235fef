// Command heapstat drives a gomalloc.Heap through a synthetic
// allocate/free workload and prints its statistics, in the spirit of
// the teacher's own stress-test harness but built around the real
// report surface (spec.md §6): current_heap_status,
// small_block_status, and small_block_contention.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"code.hybscloud.com/iox"

	"github.com/shenjiangwei/gomalloc"
)

type block struct {
	ptr  unsafe.Pointer
	size uint64
}

func main() {
	workers := flag.Int("workers", 8, "concurrent allocating goroutines")
	ops := flag.Int("ops", 200000, "total allocate/free operations")
	maxSize := flag.Uint64("max-size", 64*1024, "largest request size in bytes")
	boost := flag.Bool("boost", false, "enable the 256-byte tiny boost")
	booster := flag.Bool("booster", false, "enable extra per-thread tiny arenas")
	reportLeaks := flag.Bool("report-leaks", true, "walk for leaks on shutdown")
	watch := flag.Bool("watch", false, "poll and print live stats while the workload runs")
	flag.Parse()

	gomalloc.Init(gomalloc.Config{
		Boost:       *boost,
		Booster:     *booster,
		ReportLeaks: *reportLeaks,
	})
	defer gomalloc.Shutdown()

	var (
		mu     sync.Mutex
		live   []block
		wg     sync.WaitGroup
		done   int
		opsCap = *ops
	)

	var finished atomic.Bool
	if *watch {
		go watchStats(&finished)
	}

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for {
				mu.Lock()
				if done >= opsCap {
					mu.Unlock()
					return
				}
				done++
				mu.Unlock()

				if rnd.Float64() < 0.65 || len(live) == 0 {
					size := uint64(rnd.Int63n(int64(*maxSize))) + 1
					p := gomalloc.Alloc(size)
					if p == nil {
						continue
					}
					mu.Lock()
					live = append(live, block{ptr: p, size: size})
					mu.Unlock()
				} else {
					mu.Lock()
					if len(live) == 0 {
						mu.Unlock()
						continue
					}
					idx := rnd.Intn(len(live))
					b := live[idx]
					live[idx] = live[len(live)-1]
					live = live[:len(live)-1]
					mu.Unlock()
					gomalloc.FreeSized(b.ptr, b.size)
				}
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	finished.Store(true)

	fmt.Printf("ran %d ops across %d workers in %v\n", *ops, *workers, time.Since(start))
	printStatus(gomalloc.CurrentHeapStatus())
	printSmallBlocks(gomalloc.SmallBlockStatus(*maxSize, true))
	printContention(gomalloc.SmallBlockContention(*maxSize))

	for _, b := range live {
		gomalloc.Free(b.ptr)
	}
}

// watchStats polls the live heap's statistics until done is set, printing
// one line per poll. Adaptive waiting between polls follows the same
// iox.Backoff retry convention hayabusa-cloud-iobuf's bounded pool uses
// while waiting on an external, not-yet-ready resource.
func watchStats(done *atomic.Bool) {
	var aw iox.Backoff
	for !done.Load() {
		aw.Wait()
		s := gomalloc.CurrentHeapStatus()
		fmt.Printf("watch: tiny=%dB small=%dB medium=%dB large=%dB sleeps=%d\n",
			s.Tiny.CurrentBytes, s.Small.CurrentBytes, s.Medium.CurrentBytes, s.Large.CurrentBytes, s.SleepCount)
	}
}

func printStatus(s gomalloc.HeapStatus) {
	fmt.Println("\ntier           current        cumulative           peak      allocs       frees")
	for _, t := range []gomalloc.TierStatus{s.Tiny, s.Small, s.Medium, s.Large} {
		fmt.Printf("%-6s %14d %17d %14d %11d %11d\n",
			t.Tier, t.CurrentBytes, t.CumulativeBytes, t.PeakBytes, t.AllocCount, t.FreeCount)
	}
	fmt.Printf("global sleep count: %d, sleep cycles: %d\n", s.SleepCount, s.SleepCycles)
}

func printSmallBlocks(entries []gomalloc.SmallBlockEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Println("\nblock size     total allocs     currently in use")
	for _, e := range entries {
		fmt.Printf("%10d %16d %20d\n", e.BlockSize, e.Total, e.Current)
	}
}

func printContention(entries []gomalloc.ContentionEntry) {
	var any bool
	for _, e := range entries {
		if e.SleepCount > 0 {
			any = true
			break
		}
	}
	if !any {
		return
	}
	fmt.Println("\nblock size     sleep count")
	for _, e := range entries {
		if e.SleepCount == 0 {
			continue
		}
		fmt.Printf("%10d %12d\n", e.BlockSize, e.SleepCount)
	}
}
