package imagery

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// SyntheticSource produces uniform random images. It stands in for a real
// imagery provider during development and tests.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource returns a source seeded with seed. A zero seed uses the clock.
func NewSyntheticSource(seed uint64) *SyntheticSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
	}
	return &SyntheticSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))} //nolint:gosec // G404: not used for security
}

// Name implements Source.
func (s *SyntheticSource) Name() string { return "synthetic" }

// Fetch implements Source. The coordinate is ignored and every call draws
// fresh values in [0,1).
func (s *SyntheticSource) Fetch(ctx context.Context, coord Coordinate, bufferSize int) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		return nil, unavailable(s.Name(), coord, nil)
	}

	img := NewImage(Height, Width, Channels)
	s.mu.Lock()
	for i := range img.Pix {
		img.Pix[i] = s.rng.Float32()
	}
	s.mu.Unlock()
	return img, nil
}
