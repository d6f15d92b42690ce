package memsim

//go:generate mockgen -destination=mock/reclaimer.go -package=mock . Reclaimer

// Reclaimer gives memory back to an Arena when it runs short.
type Reclaimer interface {
	// Reclaim tries to release at least need bytes and returns how many
	// bytes it actually released. mayIO allows writing dirty data back.
	Reclaim(need int64, mayIO bool) int64
}

type ReclaimerFunc func(need int64, mayIO bool) int64

func (f ReclaimerFunc) Reclaim(need int64, mayIO bool) int64 {
	return f(need, mayIO)
}
