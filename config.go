package ouroboros

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/i5heu/ouroboros-cryptree/pkg/chunk"
	"github.com/i5heu/ouroboros-cryptree/pkg/logging"
)

// Backend selects the byte store underneath the blob store.
type Backend string

const (
	BackendBadger Backend = "badger"
	BackendBolt   Backend = "bolt"
	BackendMemory Backend = "memory"
)

// Config configures the store instance. Only Paths[0] is used at the
// moment.
type Config struct {
	// Paths contains data directories. Not needed for BackendMemory.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked by the badger backend.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// Backend defaults to BackendBadger.
	Backend Backend
	// ErasureOriginal and ErasureAllowedFailures set the fragment layout of
	// new chunks. Zero selects 40 and 10.
	ErasureOriginal        int
	ErasureAllowedFailures int
	// Workers sizes the shared worker pool. Zero selects the CPU count.
	Workers int
	// CompressUploads zstd compresses file content before encryption.
	CompressUploads bool
	// GarbageCollectionInterval runs badger compaction periodically. Zero
	// disables it.
	GarbageCollectionInterval time.Duration
}

func defaultLogger() *slog.Logger { // A
	return logging.Logger
}

func (c *Config) withDefaults() error {
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	if c.Backend == "" {
		c.Backend = BackendBadger
	}
	if c.ErasureOriginal == 0 {
		c.ErasureOriginal = chunk.ErasureOriginal
	}
	if c.ErasureAllowedFailures == 0 {
		c.ErasureAllowedFailures = chunk.ErasureAllowedFailures
	}

	switch c.Backend {
	case BackendBadger, BackendBolt:
		if len(c.Paths) == 0 {
			return fmt.Errorf("ouroboros: backend %s needs at least one path", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ouroboros: unknown backend %q", c.Backend)
	}
	if c.ErasureOriginal < 0 || c.ErasureAllowedFailures < 0 {
		return fmt.Errorf("ouroboros: negative erasure parameters %d/%d", c.ErasureOriginal, c.ErasureAllowedFailures)
	}
	if c.ErasureOriginal+c.ErasureAllowedFailures > 256 {
		return fmt.Errorf("ouroboros: at most 256 fragments per chunk, got %d", c.ErasureOriginal+c.ErasureAllowedFailures)
	}
	return nil
}
