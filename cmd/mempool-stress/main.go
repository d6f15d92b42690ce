// mempool-stress hammers a set of reserve-backed pools sharing a simulated
// memory arena and fails if a blocking allocation ever comes back empty.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v2"

	"github.com/ozontech/mempool/buildinfo"
	"github.com/ozontech/mempool/consts"
	"github.com/ozontech/mempool/logger"
	"github.com/ozontech/mempool/network/debugserver"
)

func main() {
	kingpin.Version(buildinfo.Version)
	kingpin.Parse()

	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	runID := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	log := logger.Named("stress", zap.Stringer("run_id", runID))

	log.Info("hi, I am mempool-stress",
		zap.String("version", buildinfo.Version),
		zap.String("build_time", buildinfo.BuildTime),
	)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("can't load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.Stress.Duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cfg.Stress.Duration)
		defer cancelTimeout()
	}

	ready := atomic.NewBool(false)
	current := atomic.NewPointer[stresser](nil)
	if cfg.DebugAddr != "" {
		srv := debugserver.New(cfg.DebugAddr, ready, func() any {
			if s := current.Load(); s != nil {
				return s.state()
			}
			return nil
		})
		go srv.Start()
		defer srv.Stop(consts.DebugServerStopTimeout)
	}

	s, err := newStresser(cfg, log)
	if err != nil {
		logger.Fatal("can't reserve pools", zap.Error(err))
	}
	current.Store(s)
	ready.Store(true)

	started := time.Now()
	runErr := s.run(ctx)
	rep := s.report(runID.String(), time.Since(started))

	ready.Store(false)
	current.Store(nil)
	closeErr := s.close()

	log.Info("stress finished",
		zap.String("elapsed", rep.Elapsed),
		zap.Int64("allocs", rep.totalAllocs()),
		zap.Int64("misses", rep.totalMisses()),
		zap.Int64("compressed_bytes", rep.CompressedBytes),
	)
	if *flagReport != "" {
		if err := writeReport(*flagReport, rep); err != nil {
			log.Error("can't write report", zap.Error(err))
		}
	}

	if err := multierr.Combine(runErr, closeErr); err != nil {
		logger.Fatal("stress failed", zap.Error(err))
	}
	logger.Sync()
}

func writeReport(path string, rep report) error {
	out, err := yaml.Marshal(rep)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
