//go:build !race

package bytespool

import (
	"runtime/debug"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRoundsUp(t *testing.T) {
	buf := Acquire(235)
	defer Release(buf)
	require.Equal(t, 256, cap(buf.B))
	require.Equal(t, 235, len(buf.B))
}

func TestAcquireReset(t *testing.T) {
	buf := AcquireReset(100)
	defer Release(buf)
	require.Equal(t, 0, len(buf.B))
	require.Equal(t, 128, cap(buf.B))
}

func TestClassCapacity(t *testing.T) {
	require.Equal(t, 0, ClassCapacity(0))
	require.Equal(t, 1, ClassCapacity(1))
	require.Equal(t, 4096, ClassCapacity(3000))
	require.Equal(t, 4096, ClassCapacity(4096))
	require.Equal(t, 8192, ClassCapacity(4097))
	require.Equal(t, maxCapacity+1, ClassCapacity(maxCapacity+1))
}

func TestBufferZero(t *testing.T) {
	buf := &Buffer{B: make([]byte, 2, 8)}
	buf.B[0], buf.B[1] = 1, 2
	buf.Zero()
	require.Equal(t, make([]byte, 8), buf.B)
}

func TestReleaseNil(t *testing.T) {
	require.NotPanics(t, func() { New().Release(nil) })
}

func TestReleaseByClass(t *testing.T) {
	type TestCase struct {
		RequestedLength    int
		ExpectedCapacity   int
		ExpectedClassIndex int
	}

	tcs := []TestCase{
		{RequestedLength: 0, ExpectedCapacity: 0, ExpectedClassIndex: -1},
		{RequestedLength: 1, ExpectedCapacity: 1, ExpectedClassIndex: 0},
		{RequestedLength: 16, ExpectedCapacity: 16, ExpectedClassIndex: 4},
		{RequestedLength: 17, ExpectedCapacity: 32, ExpectedClassIndex: 5},
		{RequestedLength: 4096, ExpectedCapacity: 4096, ExpectedClassIndex: 12},
		{RequestedLength: 4097, ExpectedCapacity: 8192, ExpectedClassIndex: 13},
		{RequestedLength: 1<<20 - 42, ExpectedCapacity: 1 << 20, ExpectedClassIndex: 20},
	}

	for i, tc := range tcs {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			pool := New()

			// sync.Pool drops its content on GC
			debug.SetGCPercent(-1)
			defer debug.SetGCPercent(100)

			buf := pool.Acquire(tc.RequestedLength)
			require.NotNil(t, buf)
			require.Equal(t, tc.RequestedLength, len(buf.B))
			require.Equal(t, tc.ExpectedCapacity, cap(buf.B))

			if tc.ExpectedClassIndex == -1 {
				pool.Release(buf)
				for i := range pool.classes {
					require.Nil(t, pool.classes[i].Get())
				}
				return
			}

			mark := byte(i) + 42
			buf.B[0] = mark
			pool.Release(buf)

			got := pool.classes[tc.ExpectedClassIndex].Get()
			require.NotNil(t, got)
			require.Equal(t, mark, got.(*Buffer).B[0])
		})
	}
}
