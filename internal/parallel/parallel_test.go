package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Sequential(), {Workers: 3, MinChunk: 2}, {Workers: 8, MinChunk: 64}} {
		const n = 101
		var hits [n]atomic.Int32
		For(n, func(i int) { hits[i].Add(1) }, cfg)
		for i := range hits {
			if got := hits[i].Load(); got != 1 {
				t.Fatalf("index %d visited %d times with %+v", i, got, cfg)
			}
		}
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	assert.False(t, called)
}

func TestConfig_Chunk(t *testing.T) {
	assert.Equal(t, 10, Sequential().chunk(10))
	assert.Equal(t, 3, Config{Workers: 4, MinChunk: 1}.chunk(10))
	assert.Equal(t, 5, Config{Workers: 4, MinChunk: 5}.chunk(10))
	assert.Equal(t, 9, Config{Workers: 4, MinChunk: 5}.chunk(9))
}
