package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxDimensions(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 110, Y2: 220}
	assert.Equal(t, 100.0, b.Width())
	assert.Equal(t, 200.0, b.Height())
	assert.Equal(t, 20000.0, b.Area())

	cx, cy := b.Center()
	assert.Equal(t, 60.0, cx)
	assert.Equal(t, 120.0, cy)
}

func TestBoxContains(t *testing.T) {
	outer := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	assert.True(t, outer.Contains(Box{X1: 10, Y1: 10, X2: 90, Y2: 90}))
	assert.True(t, outer.Contains(outer))
	assert.False(t, outer.Contains(Box{X1: 10, Y1: 10, X2: 110, Y2: 90}))
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{
			name: "identical boxes",
			a:    Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:    Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
			want: 1.0,
		},
		{
			name: "disjoint boxes",
			a:    Box{X1: 0, Y1: 0, X2: 50, Y2: 50},
			b:    Box{X1: 100, Y1: 100, X2: 150, Y2: 150},
			want: 0.0,
		},
		{
			name: "touching edges",
			a:    Box{X1: 0, Y1: 0, X2: 50, Y2: 50},
			b:    Box{X1: 50, Y1: 0, X2: 100, Y2: 50},
			want: 0.0,
		},
		{
			name: "half overlap",
			a:    Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
			b:    Box{X1: 50, Y1: 0, X2: 150, Y2: 100},
			want: 1.0 / 3.0,
		},
		{
			name: "degenerate box",
			a:    Box{X1: 10, Y1: 10, X2: 10, Y2: 10},
			b:    Box{X1: 0, Y1: 0, X2: 100, Y2: 100},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, IoU(tt.b, tt.a), 1e-9, "IoU must be symmetric")
		})
	}
}
