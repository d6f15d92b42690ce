package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastrand"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/mempool/bytespool"
	"github.com/ozontech/mempool/codec"
	"github.com/ozontech/mempool/config"
	"github.com/ozontech/mempool/mempool"
	"github.com/ozontech/mempool/memsim"
	"github.com/ozontech/mempool/metric"
	"github.com/ozontech/mempool/util"
)

// maxHold keeps random hold times within what fastrand.Uint32n can express.
const maxHold = time.Second

var (
	policies = []mempool.Flags{mempool.Atomic, mempool.MayIO, mempool.NoIO, mempool.Kernel}
	codecs   = []codec.Codec{codec.CodecNo, codec.CodecLZ4, codec.CodecZSTD}
)

type target struct {
	name string
	size int
	base int
	pool *mempool.Pool[*bytespool.Buffer]

	grown  atomic.Bool
	allocs atomic.Int64
	misses atomic.Int64
}

// held is an element waiting for a completer to free it.
type held struct {
	target *target
	buf    *bytespool.Buffer
}

type stresser struct {
	cfg config.Config
	log *zap.Logger

	arena   *memsim.Arena
	cache   *memsim.Cache
	targets []*target

	ws       *codec.Workspaces
	wsGrown  atomic.Bool
	block    []byte
	packed   atomic.Int64
	packErrs atomic.Int64

	completions *util.Batchan[held]
	started     time.Time
}

// newStresser fills every reserve and then populates the cache. On error
// whatever was reserved is released.
func newStresser(cfg config.Config, log *zap.Logger) (_ *stresser, err error) {
	arena, err := memsim.NewArena(cfg.ArenaConfig(), metric.ArenaMetrics("stress"))
	if err != nil {
		return nil, err
	}

	s := &stresser{
		cfg:         cfg,
		log:         log,
		arena:       arena,
		cache:       memsim.NewCache(arena),
		completions: util.NewBatchan[held](),
	}
	arena.SetReclaimer(s.cache)

	defer func() {
		if err != nil {
			err = multierr.Append(err, s.close())
		}
	}()

	for _, p := range cfg.Pools {
		size := int(p.ElementSize)
		pool, err := mempool.New[*bytespool.Buffer](p.Capacity, arena.Source(size), mempool.Kernel, metric.PoolMetrics(p.Name))
		if err != nil {
			return nil, fmt.Errorf("pool %q: %w", p.Name, err)
		}
		s.targets = append(s.targets, &target{name: p.Name, size: size, base: p.Capacity, pool: pool})
	}

	if cfg.Workspaces.Capacity > 0 {
		if s.ws, err = codec.NewWorkspaces(cfg.Workspaces.Capacity, cfg.Workspaces.ZSTDLevel, arena); err != nil {
			return nil, err
		}
		s.block = makeBlock(int(cfg.Workspaces.BlockSize))
	}

	c := cfg.Arena.Cache
	added := s.cache.Populate(int(c.EntrySize), c.Entries, c.DirtyEvery)

	log.Info("reserves filled",
		zap.Int("pools", len(s.targets)),
		zap.Int("workspaces", cfg.Workspaces.Capacity),
		zap.Int("cache_entries", added),
		util.ZapUint64AsSizeStr("arena_used", uint64(arena.Used())),
		util.ZapUint64AsSizeStr("arena_limit", uint64(arena.Limit())),
	)
	return s, nil
}

// run drives workers until ctx is done. Elements handed to the completion
// queue are freed by completers, the way I/O completion releases buffers
// allocated by submitters.
func (s *stresser) run(ctx context.Context) error {
	s.started = time.Now()
	completers := max(1, s.cfg.Stress.Workers/4)
	var cwg sync.WaitGroup
	cwg.Add(completers)
	for i := 0; i < completers; i++ {
		go func() {
			defer cwg.Done()
			s.complete()
		}()
	}

	stop := make(chan struct{})
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		util.RunEvery(stop, s.cfg.Stress.ResizeInterval, s.resize)
	}()
	go func() {
		defer bg.Done()
		util.RunEvery(stop, s.cfg.Stress.ReportInterval, s.logStats)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Stress.Workers; i++ {
		seed := uint32(i + 1)
		g.Go(func() error {
			return s.work(gctx, seed)
		})
	}
	err := g.Wait()
	if util.IsRecoveredPanicError(err) {
		s.log.Error("worker panicked, run is aborted", zap.Error(err))
	}

	close(stop)
	bg.Wait()
	s.completions.Close()
	cwg.Wait()

	return err
}

func (s *stresser) work(ctx context.Context, seed uint32) (err error) {
	defer func() {
		if panicErr := util.RecoverToError(recover(), nil); panicErr != nil {
			err = panicErr
		}
	}()

	var rng fastrand.RNG
	rng.Seed(seed)
	dst := bytespool.AcquireReset(len(s.block))
	defer bytespool.Release(dst)

	for !util.IsCancelled(ctx) {
		t := s.targets[rng.Uint32n(uint32(len(s.targets)))]
		flags := policies[rng.Uint32n(uint32(len(policies)))]

		buf, err := s.alloc(ctx, t, flags)
		if err != nil {
			return err
		}
		if buf == nil {
			continue
		}
		buf.B[0] = byte(rng.Uint32())

		if s.ws != nil && rng.Uint32n(8) == 0 {
			if dst.B, err = s.compress(&rng, dst.B[:0], flags); err != nil {
				t.pool.Free(buf)
				return err
			}
		}

		if hold := min(s.cfg.Stress.HoldTime, maxHold); hold > 0 {
			time.Sleep(time.Duration(rng.Uint32n(uint32(hold))))
		}

		if rng.Uint32n(2) == 0 || !s.completions.Send(held{target: t, buf: buf}) {
			t.pool.Free(buf)
		}
	}
	return nil
}

// alloc returns nil without an error on a non-blocking miss and on shutdown.
func (s *stresser) alloc(ctx context.Context, t *target, flags mempool.Flags) (*bytespool.Buffer, error) {
	start := time.Now()
	defer func() {
		metric.StressAllocSeconds.WithLabelValues(t.name, flags.String()).Observe(time.Since(start).Seconds())
	}()

	if !flags.CanBlock() {
		buf, ok := t.pool.Alloc(flags)
		if !ok {
			t.misses.Inc()
			return nil, nil
		}
		t.allocs.Inc()
		return buf, nil
	}

	buf, err := t.pool.AllocContext(ctx, flags)
	switch {
	case err == nil:
		t.allocs.Inc()
		return buf, nil
	case ctx.Err() != nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("blocking allocation from %q with %s failed: %w", t.name, flags, err)
	}
}

func (s *stresser) compress(rng *fastrand.RNG, dst []byte, flags mempool.Flags) ([]byte, error) {
	c := codecs[rng.Uint32n(uint32(len(codecs)))]

	out, err := s.ws.CompressBlock(c, s.block, dst, flags)
	switch {
	case errors.Is(err, codec.ErrIncompressible):
		return dst, nil
	case errors.Is(err, mempool.ErrExhausted) && !flags.CanBlock():
		s.packErrs.Inc()
		return dst, nil
	case err != nil:
		return dst, fmt.Errorf("compress with %s: %w", flags, err)
	}

	s.packed.Add(int64(len(out)))
	metric.StressCompressedBytesTotal.WithLabelValues(c.String()).Add(float64(len(out)))

	if rng.Uint32n(16) == 0 {
		raw, err := codec.DecompressBlock(c, len(s.block), out, nil)
		if err != nil {
			return out, fmt.Errorf("decompress %s: %w", c, err)
		}
		if !bytes.Equal(raw, s.block) {
			return out, fmt.Errorf("%s round trip changed the block", c)
		}
	}
	return out, nil
}

func (s *stresser) complete() {
	var buf []held
	for {
		buf = s.completions.Fetch(buf)
		if len(buf) == 0 {
			return
		}
		for _, h := range buf {
			h.target.pool.Free(h.buf)
		}
	}
}

// resize flips every reserve between its configured capacity and twice that.
func (s *stresser) resize() {
	for _, t := range s.targets {
		capacity := t.base
		if !t.grown.Toggle() {
			capacity *= 2
		}
		if err := t.pool.Resize(capacity, mempool.Kernel); err != nil {
			s.log.Error("can't resize pool", zap.String("pool", t.name), zap.Error(err))
		}
	}

	if s.ws != nil {
		capacity := s.cfg.Workspaces.Capacity
		if !s.wsGrown.Toggle() {
			capacity *= 2
		}
		if err := s.ws.Resize(capacity, mempool.Kernel); err != nil {
			s.log.Error("can't resize workspaces", zap.Error(err))
		}
	}
}

func (s *stresser) logStats() {
	for _, t := range s.targets {
		st := t.pool.Stats()
		s.log.Info("pool stats",
			zap.String("pool", t.name),
			zap.Int("capacity", st.Capacity),
			zap.Int("count", st.Count),
			zap.Int("waiters", st.Waiters),
			zap.Int64("allocs", t.allocs.Load()),
			zap.Int64("misses", t.misses.Load()),
		)
	}
	clean, dirty := s.cache.Len()
	s.log.Info("arena stats",
		util.ZapUint64AsSizeStr("used", uint64(s.arena.Used())),
		zap.Int("cache_clean", clean),
		zap.Int("cache_dirty", dirty),
		zap.Int("completions_queued", s.completions.Len()),
		util.ZapDurationWithPrec("uptime_s", time.Since(s.started), "s", 1),
	)
}

// close releases every reserve and the cache and checks that nothing
// charged to the arena is left behind.
func (s *stresser) close() error {
	var err error
	for _, t := range s.targets {
		t.pool.Destroy()
	}
	s.targets = nil
	if s.ws != nil {
		err = multierr.Append(err, s.ws.Close())
		s.ws = nil
	}
	s.cache.Drop()

	if used := s.arena.Used(); used != 0 {
		err = multierr.Append(err, fmt.Errorf("arena leaked %s", util.SizeStr(uint64(used))))
	}
	return err
}

// makeBlock builds a log-like block that compresses well but not trivially.
func makeBlock(size int) []byte {
	var rng fastrand.RNG
	rng.Seed(uint32(size))

	block := make([]byte, 0, size+128)
	for i := 0; len(block) < size; i++ {
		block = append(block, `{"level":"info","ts":`...)
		block = strconv.AppendUint(block, uint64(1_700_000_000+i), 10)
		block = append(block, `,"msg":"request served","latency_us":`...)
		block = strconv.AppendUint(block, uint64(rng.Uint32n(100_000)), 10)
		block = append(block, "}\n"...)
	}
	return block[:size]
}
