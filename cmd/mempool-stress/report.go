package main

import (
	"time"

	"github.com/ozontech/mempool/buildinfo"
	"github.com/ozontech/mempool/config"
	"github.com/ozontech/mempool/mempool"
)

type report struct {
	RunID           string                   `yaml:"run_id"`
	Version         string                   `yaml:"version"`
	Elapsed         string                   `yaml:"elapsed"`
	Arena           arenaReport              `yaml:"arena"`
	Pools           []poolReport             `yaml:"pools"`
	Workspaces      map[string]mempool.Stats `yaml:"workspaces,omitempty"`
	CompressedBytes int64                    `yaml:"compressed_bytes"`
	CompressMisses  int64                    `yaml:"compress_misses"`
}

type arenaReport struct {
	Limit    config.Bytes `yaml:"limit"`
	Reserve  config.Bytes `yaml:"reserve"`
	Used     config.Bytes `yaml:"used"`
	FailRate float64      `yaml:"fail_rate"`
}

type poolReport struct {
	Name          string       `yaml:"name"`
	ElementSize   config.Bytes `yaml:"element_size"`
	mempool.Stats `yaml:",inline"`
	Allocs        int64 `yaml:"allocs"`
	Misses        int64 `yaml:"misses"`
}

func (r report) totalAllocs() int64 {
	var total int64
	for _, p := range r.Pools {
		total += p.Allocs
	}
	return total
}

func (r report) totalMisses() int64 {
	var total int64
	for _, p := range r.Pools {
		total += p.Misses
	}
	return total
}

// state is what the debug server shows on /pools.
func (s *stresser) state() []poolReport {
	pools := make([]poolReport, 0, len(s.targets))
	for _, t := range s.targets {
		pools = append(pools, poolReport{
			Name:        t.name,
			ElementSize: config.Bytes(t.size),
			Stats:       t.pool.Stats(),
			Allocs:      t.allocs.Load(),
			Misses:      t.misses.Load(),
		})
	}
	return pools
}

func (s *stresser) report(runID string, elapsed time.Duration) report {
	r := report{
		RunID:   runID,
		Version: buildinfo.Version,
		Elapsed: elapsed.Round(time.Millisecond).String(),
		Arena: arenaReport{
			Limit:    s.cfg.Arena.Limit,
			Reserve:  s.cfg.Arena.Reserve,
			Used:     config.Bytes(s.arena.Used()),
			FailRate: s.cfg.Arena.FailRate,
		},
		Pools:           s.state(),
		CompressedBytes: s.packed.Load(),
		CompressMisses:  s.packErrs.Load(),
	}
	if s.ws != nil {
		r.Workspaces = make(map[string]mempool.Stats)
		for c, st := range s.ws.Stats() {
			r.Workspaces[c.String()] = st
		}
	}
	return r
}
