//go:build arm64

package cacheline

// Size is the L1 cache line size for arm64. Apple Silicon and most
// server-class arm64 parts use 64-byte lines; a few use 128.
const Size = 64
