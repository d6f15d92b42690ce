package config

import (
	"cmp"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alecthomas/units"
	"github.com/kkyr/fig"
	"go.uber.org/multierr"

	"github.com/ozontech/mempool/bytespool"
	"github.com/ozontech/mempool/consts"
	"github.com/ozontech/mempool/limits"
	"github.com/ozontech/mempool/mempool"
	"github.com/ozontech/mempool/memsim"
)

// Parse loads the config at path. An empty path yields the defaults.
// Computed defaults are applied, but the result is not validated.
func Parse(path string) (Config, error) {
	var c Config

	opts := []fig.Option{fig.Tag("config"), fig.File(filepath.Base(path)), fig.Dirs(filepath.Dir(path))}
	if path == "" {
		opts = []fig.Option{fig.Tag("config"), fig.IgnoreFile()}
	}
	if err := fig.Load(&c, opts...); err != nil {
		return Config{}, err
	}

	/* Set computed defaults if user did not override them */

	c.Arena.Limit = cmp.Or(c.Arena.Limit, Bytes(float64(limits.TotalMemory)*consts.DefaultArenaMemoryRatio))
	c.Arena.Reserve = cmp.Or(c.Arena.Reserve, Bytes(float64(c.Arena.Limit)*consts.DefaultEmergencyRatio))
	c.Workspaces.ZSTDLevel = cmp.Or(c.Workspaces.ZSTDLevel, consts.DefaultZSTDLevel)
	c.Stress.Workers = cmp.Or(c.Stress.Workers, 4*limits.NumCPU)
	c.Stress.ResizeInterval = cmp.Or(c.Stress.ResizeInterval, consts.DefaultResizeInterval)
	c.Stress.ReportInterval = cmp.Or(c.Stress.ReportInterval, consts.DefaultReportInterval)

	if len(c.Pools) == 0 {
		c.Pools = DefaultPools()
	}

	return c, nil
}

type Config struct {
	// DebugAddr is the listen address of the debug server,
	// empty disables it.
	DebugAddr string `config:"debugAddr" default:":9200"`

	Arena struct {
		// Limit is the memory budget shared by all pools.
		// By default this setting is equal to 10% of available RAM.
		Limit Bytes `config:"limit"`
		// Reserve is the part of Limit kept for allocations
		// that are allowed to dip into emergency memory.
		// By default this setting is equal to 5% of Limit.
		Reserve Bytes `config:"reserve"`
		// FailRate is the probability of failing a non-blocking allocation.
		FailRate float64 `config:"failRate" default:"0.001"`

		// Cache is a reclaimable consumer populated at start
		// so that blocking allocations have something to reclaim.
		Cache struct {
			Entries    int   `config:"entries" default:"256"`
			EntrySize  Bytes `config:"entrySize" default:"64KiB"`
			DirtyEvery int   `config:"dirtyEvery" default:"4"`
		} `config:"cache"`
	} `config:"arena"`

	Pools []Pool `config:"pools"`

	Workspaces struct {
		// Capacity is the number of reserved workspaces per codec, 0 disables them.
		Capacity  int   `config:"capacity" default:"4"`
		ZSTDLevel int   `config:"zstdLevel"`
		BlockSize Bytes `config:"blockSize" default:"64KiB"`
	} `config:"workspaces"`

	Stress struct {
		// Workers specifies number of allocating goroutines.
		// By default this setting is equal to 4 * [runtime.GOMAXPROCS].
		Workers        int           `config:"workers"`
		Duration       time.Duration `config:"duration" default:"1m"`
		ResizeInterval time.Duration `config:"resizeInterval"`
		HoldTime       time.Duration `config:"holdTime" default:"200us"`
		ReportInterval time.Duration `config:"reportInterval"`
	} `config:"stress"`
}

type Pool struct {
	Name        string `config:"name" yaml:"name"`
	Capacity    int    `config:"capacity" yaml:"capacity"`
	ElementSize Bytes  `config:"elementSize" yaml:"element_size"`
}

func DefaultPools() []Pool {
	return []Pool{
		{Name: "small", Capacity: 64, ElementSize: 256},
		{Name: "page", Capacity: 16, ElementSize: consts.PageSize},
		{Name: "block", Capacity: 4, ElementSize: consts.DefaultMaxBlockSize},
	}
}

// ArenaConfig returns the settings of the simulated memory arena.
func (c *Config) ArenaConfig() memsim.Config {
	return memsim.Config{
		Limit:    int64(c.Arena.Limit),
		Reserve:  int64(c.Arena.Reserve),
		FailRate: c.Arena.FailRate,
	}
}

// ReservedBytes is the memory all reserves take when full. Elements are
// charged by their bytespool size class, not by their size.
func (c *Config) ReservedBytes() int64 {
	var total int64
	for _, p := range c.Pools {
		total += int64(p.Capacity) * int64(bytespool.ClassCapacity(int(p.ElementSize)))
	}
	total += int64(c.Workspaces.Capacity) * (consts.LZ4WorkspaceSize + consts.ZSTDWorkspaceSize)
	return total
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var err error

	err = multierr.Append(err, c.ArenaConfig().Validate())
	if c.Arena.Cache.Entries < 0 || c.Arena.Cache.EntrySize < 0 || c.Arena.Cache.DirtyEvery < 0 {
		err = multierr.Append(err, fmt.Errorf("arena cache settings must not be negative"))
	}

	if len(c.Pools) == 0 {
		err = multierr.Append(err, fmt.Errorf("no pools configured"))
	}
	names := make(map[string]struct{}, len(c.Pools))
	for i, p := range c.Pools {
		if p.Name == "" {
			err = multierr.Append(err, fmt.Errorf("pool #%d has no name", i))
		}
		if _, ok := names[p.Name]; ok {
			err = multierr.Append(err, fmt.Errorf("pool %q: duplicate name", p.Name))
		}
		names[p.Name] = struct{}{}
		if p.Capacity < 1 || p.Capacity > mempool.MaxCapacity {
			err = multierr.Append(err, fmt.Errorf("pool %q: capacity %d out of range [1, %d]", p.Name, p.Capacity, mempool.MaxCapacity))
		}
		if p.ElementSize <= 0 {
			err = multierr.Append(err, fmt.Errorf("pool %q: element size must be positive", p.Name))
		}
	}

	if c.Workspaces.Capacity < 0 || c.Workspaces.Capacity > mempool.MaxCapacity {
		err = multierr.Append(err, fmt.Errorf("workspaces capacity %d out of range [0, %d]", c.Workspaces.Capacity, mempool.MaxCapacity))
	}
	if c.Workspaces.ZSTDLevel < 1 || c.Workspaces.ZSTDLevel > 22 {
		err = multierr.Append(err, fmt.Errorf("zstd level %d out of range [1, 22]", c.Workspaces.ZSTDLevel))
	}
	if c.Workspaces.BlockSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("workspace block size must be positive"))
	}

	if reserved := c.ReservedBytes(); reserved > int64(c.Arena.Limit) {
		err = multierr.Append(err, fmt.Errorf("reserves need %s, arena limit is %s", Bytes(reserved), c.Arena.Limit))
	}

	if c.Stress.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("workers must be positive"))
	}
	if c.Stress.Duration < 0 || c.Stress.HoldTime < 0 {
		err = multierr.Append(err, fmt.Errorf("durations must not be negative"))
	}
	if c.Stress.ResizeInterval <= 0 || c.Stress.ReportInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("intervals must be positive"))
	}

	return err
}

type Bytes units.Base2Bytes

func (b *Bytes) UnmarshalString(s string) error {
	bytes, err := units.ParseBase2Bytes(s)
	if err != nil {
		return err
	}
	*b = Bytes(bytes)
	return nil
}

func (b Bytes) String() string {
	return units.Base2Bytes(b).String()
}

// MarshalYAML keeps sizes human readable in reports.
func (b Bytes) MarshalYAML() (any, error) {
	return b.String(), nil
}
