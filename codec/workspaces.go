package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ozontech/mempool/logger"
	"github.com/ozontech/mempool/mempool"
	"github.com/ozontech/mempool/memsim"
	"github.com/ozontech/mempool/metric"
	"github.com/ozontech/mempool/util"
)

// Workspace is the per-call state of a compressor.
type Workspace struct {
	codec Codec
	zstd  *zstd.Encoder
	lz4   *lz4.Compressor
}

func (w *Workspace) compress(src, dst []byte) ([]byte, error) {
	switch w.codec {
	case CodecLZ4:
		dst = util.EnsureSliceSize(dst, lz4.CompressBlockBound(len(src)))
		n, err := w.lz4.CompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrIncompressible
		}
		return dst[:n], nil
	case CodecZSTD:
		return w.zstd.EncodeAll(src, dst[:0]), nil
	default:
		return nil, fmt.Errorf("unimplemented codec %d", w.codec)
	}
}

type workspaceSource struct {
	codec Codec
	level zstd.EncoderLevel
	arena *memsim.Arena
}

func (s workspaceSource) Alloc(flags mempool.Flags) (*Workspace, bool) {
	size := s.codec.WorkspaceSize()
	if s.arena != nil && !s.arena.Charge(size, flags) {
		return nil, false
	}

	w := &Workspace{codec: s.codec}
	switch s.codec {
	case CodecLZ4:
		w.lz4 = &lz4.Compressor{}
	case CodecZSTD:
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderCRC(false),
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(s.level))
		if err != nil {
			logger.Error("can't create zstd encoder", zap.Error(err))
			s.uncharge(size)
			return nil, false
		}
		w.zstd = enc
	}
	return w, true
}

func (s workspaceSource) Free(w *Workspace) {
	if w.zstd != nil {
		if err := w.zstd.Close(); err != nil {
			logger.Error("can't close zstd encoder", zap.Error(err))
		}
	}
	s.uncharge(s.codec.WorkspaceSize())
}

func (s workspaceSource) uncharge(size int64) {
	if s.arena != nil {
		s.arena.Uncharge(size)
	}
}

// Workspaces keeps a reserve of compression workspaces per codec.
type Workspaces struct {
	pools map[Codec]*mempool.Pool[*Workspace]
	inUse map[Codec]*atomic.Int64
}

// NewWorkspaces reserves capacity workspaces for each compressing codec.
// ZSTD encoders use the given level. Workspaces are charged to arena
// unless it is nil.
func NewWorkspaces(capacity, level int, arena *memsim.Arena) (*Workspaces, error) {
	ws := &Workspaces{
		pools: make(map[Codec]*mempool.Pool[*Workspace]),
		inUse: make(map[Codec]*atomic.Int64),
	}
	for _, c := range []Codec{CodecLZ4, CodecZSTD} {
		src := workspaceSource{
			codec: c,
			level: zstd.EncoderLevelFromZstd(level),
			arena: arena,
		}
		p, err := mempool.New[*Workspace](capacity, src, mempool.Kernel, metric.PoolMetrics("workspace_"+c.String()))
		if err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("can't reserve %s workspaces: %w", c, err)
		}
		ws.pools[c] = p
		ws.inUse[c] = atomic.NewInt64(0)
	}
	return ws, nil
}

// CompressBlock compresses src into dst using a workspace taken with flags.
// CodecNo copies src as is.
func (ws *Workspaces) CompressBlock(c Codec, src, dst []byte, flags mempool.Flags) ([]byte, error) {
	if c == CodecNo {
		return append(dst[:0], src...), nil
	}

	p, ok := ws.pools[c]
	if !ok {
		return nil, fmt.Errorf("unimplemented codec %d", c)
	}

	w, ok := p.Alloc(flags)
	if !ok {
		return nil, fmt.Errorf("no %s workspace for %s: %w", c, flags, mempool.ErrExhausted)
	}
	inUse := ws.inUse[c]
	inUse.Inc()
	defer func() {
		p.Free(w)
		inUse.Dec()
	}()

	return w.compress(src, dst)
}

// Resize changes the number of reserved workspaces of every codec.
func (ws *Workspaces) Resize(capacity int, flags mempool.Flags) error {
	var err error
	for c, p := range ws.pools {
		if e := p.Resize(capacity, flags); e != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", c, e))
		}
	}
	return err
}

// Stats returns the reserve state per codec.
func (ws *Workspaces) Stats() map[Codec]mempool.Stats {
	stats := make(map[Codec]mempool.Stats, len(ws.pools))
	for c, p := range ws.pools {
		stats[c] = p.Stats()
	}
	return stats
}

// Close destroys all reserves. It reports codecs whose workspaces were
// still in use; those go back to the source when their call returns.
func (ws *Workspaces) Close() error {
	var err error
	for c, p := range ws.pools {
		if n := ws.inUse[c].Load(); n != 0 {
			err = multierr.Append(err, fmt.Errorf("%s: %d workspaces in use", c, n))
		}
		p.Destroy()
		delete(ws.pools, c)
	}
	return err
}
