package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureSliceSize(t *testing.T) {
	buf := make([]byte, 0, 8)
	assert.Len(t, EnsureSliceSize(buf, 4), 4)
	assert.Equal(t, 8, cap(EnsureSliceSize(buf, 4)))

	grown := EnsureSliceSize(buf, 10)
	assert.Len(t, grown, 10)
	assert.Equal(t, 16, cap(grown))
}

func TestDurationToUnit(t *testing.T) {
	assert.Equal(t, 1.5, DurationToUnit(1500*time.Microsecond, "ms"))
	assert.Equal(t, 2.0, DurationToUnit(2*time.Second, "S"))
	assert.Panics(t, func() { DurationToUnit(time.Second, "fortnight") })
}

func TestRecoverToError(t *testing.T) {
	assert.NoError(t, RecoverToError(nil, nil))

	err := func() (err error) {
		defer func() { err = RecoverToError(recover(), nil) }()
		panic("boom")
	}()
	assert.EqualError(t, err, "boom")
	assert.True(t, IsRecoveredPanicError(err))
}
