package limits

import (
	"fmt"
	"runtime"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/ozontech/mempool/logger"
)

var (
	NumCPU      int
	TotalMemory uint64
)

func init() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(tpl string, args ...any) { logger.Info(fmt.Sprintf(tpl, args...)) }))

	NumCPU = runtime.GOMAXPROCS(0)
	TotalMemory = getTotalMemory()

	logger.Debug("resource limits detected",
		zap.Int("num_cpu", NumCPU),
		zap.Uint64("total_memory", TotalMemory),
	)
}

// getTotalMemory prefers the cgroup limit and falls back to physical memory.
func getTotalMemory() uint64 {
	if mem, err := memlimit.FromCgroup(); err == nil {
		return mem
	}
	mem, _ := memlimit.FromSystem()
	return mem
}
