package ringbuf

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBuffer_PushEvictsOldest(t *testing.T) {
	b := New[int](3)

	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Slice())

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestBuffer_Empty(t *testing.T) {
	b := New[string](0)

	assert.Equal(t, 1, b.Cap())
	_, ok := b.Last()
	assert.False(t, ok)
	assert.Empty(t, b.Slice())
}

func TestBuffer_Reset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	b.Reset()

	assert.Equal(t, 0, b.Len())
	b.Push(9)
	assert.Equal(t, []int{9}, b.Slice())
}

func TestBuffer_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("never exceeds capacity and keeps the newest elements", prop.ForAll(
		func(capacity int, values []int) bool {
			b := New[int](capacity)
			for _, v := range values {
				b.Push(v)
			}

			want := values
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}

			got := b.Slice()
			if b.Len() > capacity || len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}

			return true
		},
		gen.IntRange(1, 40),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
