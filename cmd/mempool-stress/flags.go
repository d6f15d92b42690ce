package main

import (
	"cmp"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ozontech/mempool/config"
	"github.com/ozontech/mempool/consts"
)

var (
	flagConfig = kingpin.Flag("config", `path to YAML config, defaults are used when empty`).String()
	flagReport = kingpin.Flag("report", `write the end-of-run report as YAML to this file`).String()

	// overrides
	flagDebugAddr  = kingpin.Flag("debug-addr", `debug listen addr e.g. ":9200"`).String()
	flagWorkers    = kingpin.Flag("workers", `number of allocating goroutines`).Int()
	flagDuration   = kingpin.Flag("duration", `how long to run, runs until interrupted when zero in config`).Duration()
	flagHoldTime   = kingpin.Flag("hold-time", `max time a worker keeps an element`).Duration()
	flagFailRate   = kingpin.Flag("fail-rate", `probability of failing a non-blocking allocation`).Default("-1").Float64()
	flagArenaLimit = kingpin.Flag("arena-limit", `memory budget e.g. "256MB", resets the emergency reserve to its default share`).Bytes()
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Parse(*flagConfig)
	if err != nil {
		return config.Config{}, err
	}

	cfg.DebugAddr = cmp.Or(*flagDebugAddr, cfg.DebugAddr)
	cfg.Stress.Workers = cmp.Or(*flagWorkers, cfg.Stress.Workers)
	cfg.Stress.Duration = cmp.Or(*flagDuration, cfg.Stress.Duration)
	cfg.Stress.HoldTime = cmp.Or(*flagHoldTime, cfg.Stress.HoldTime)
	if *flagFailRate >= 0 {
		cfg.Arena.FailRate = *flagFailRate
	}
	if *flagArenaLimit > 0 {
		cfg.Arena.Limit = config.Bytes(*flagArenaLimit)
		cfg.Arena.Reserve = config.Bytes(float64(cfg.Arena.Limit) * consts.DefaultEmergencyRatio)
	}

	return cfg, cfg.Validate()
}
