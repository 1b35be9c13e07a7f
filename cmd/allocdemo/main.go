// Command allocdemo exercises the allocator the way boro-db's own main.go
// exercises a fresh filesystem: init, malloc, realloc, free, plus a
// periodic status report styled after paging.bufferPool's eviction/flush
// ticker loop.
package main

import (
	"time"

	"github.com/seiftnesse/memoryallocator"
	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/logging"
	"github.com/seiftnesse/memoryallocator/stats"
)

func main() {
	logger := logging.CreateDebugLogger()

	if err := allocator.HeapInit(allocator.DefaultOptions()); err != nil {
		logger.Error().Err(err).Msg("failed to initialize allocator")
		return
	}

	allocator.HeapEnableDebug(true)
	allocator.HeapEnableLogging(true)
	allocator.HeapSetLogFunction(func(format string, args ...any) {
		logger.Info().Msgf(format, args...)
	})
	allocator.HeapSetIntegrityCheckLevel(integrity.LevelStandard)
	allocator.HeapSetZeroOnFree(stats.ZeroShallow)

	p := allocator.MallocDebug(128, "cmd/allocdemo/main.go", 32)
	if p.IsNil() {
		logger.Error().Msg("allocation failed")
		return
	}

	p = allocator.Realloc(p, 512)
	allocator.Free(p)

	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		<-statusTicker.C
		allocator.HeapPrintStatus()
		if errs := allocator.HeapVerifyIntegrity(false); errs > 0 {
			logger.Error().Msgf("integrity check found %d errors", errs)
		}
	}
}
