package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/mempool/consts"
)

func TestBufferPool(t *testing.T) {
	_, err := NewBufferPool(1, 0, nil)
	assert.Error(t, err)

	p, err := NewBufferPool(3, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count())

	buf, ok := p.Alloc(Atomic)
	require.True(t, ok)
	assert.Len(t, buf.B, 100)

	p.Free(buf)
	assert.Equal(t, 3, p.Count())
	p.Destroy()
}

func TestPagePool(t *testing.T) {
	_, err := NewPagePool(1, -1, nil)
	assert.Error(t, err)
	_, err = NewPagePool(1, consts.MaxPageOrder+1, nil)
	assert.Error(t, err)

	p, err := NewPagePool(2, 1, nil)
	require.NoError(t, err)

	page, ok := p.AllocPreallocated()
	require.True(t, ok)
	assert.Len(t, page.B, 2*consts.PageSize)
	assert.Equal(t, make([]byte, 2*consts.PageSize), page.B)

	p.Free(page)
	p.Destroy()
}

type object struct {
	id   int
	data []int
}

func TestObjectPool(t *testing.T) {
	built := 0
	newFn := func() *object {
		built++
		return &object{id: built}
	}
	reset := func(o *object) { o.data = o.data[:0] }

	p, err := NewObjectPool[object](2, newFn, reset, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, built)

	a, ok := p.AllocPreallocated()
	require.True(t, ok)
	b, ok := p.AllocPreallocated()
	require.True(t, ok)
	assert.NotSame(t, a, b)

	a.data = append(a.data, 1, 2, 3)
	p.Free(a)
	p.Free(b)
	assert.Equal(t, 2, p.Count())

	// overflow goes back to the source and is reset there
	c, ok := p.Alloc(Atomic)
	require.True(t, ok)
	c.data = append(c.data, 4)
	require.NoError(t, p.Resize(1, Atomic))
	p.Free(c)
	assert.Empty(t, c.data)

	p.Destroy()
}
