package consts

import "time"

const (
	KB = 1024
	MB = 1024 * 1024
	GB = 1024 * 1024 * 1024

	// PageSize is the unit of page pools, order n pages are PageSize << n bytes.
	PageSize     = 4 * KB
	MaxPageOrder = 10

	// workspaces
	DefaultZSTDLevel      = 3
	ZSTDWorkspaceSize     = 2 * MB
	LZ4WorkspaceSize      = 64 * KB
	DefaultMaxBlockSize   = 1 * MB
	DefaultEmergencyRatio = 0.05

	// stress
	DefaultResizeInterval   = 5 * time.Second
	DefaultReportInterval   = 10 * time.Second
	DebugServerStopTimeout  = 3 * time.Second
	DefaultArenaMemoryRatio = 0.1
)
