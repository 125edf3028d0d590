package env

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Noise adds zero-mean Gaussian noise to frames in normalized [-1, 1]
// pixel space. A nil Noise is the identity.
type Noise struct {
	dist distuv.Normal
}

// NewNoise returns nil when variance is not positive.
func NewNoise(variance float64, src rand.Source) *Noise {
	if variance <= 0 {
		return nil
	}
	return &Noise{dist: distuv.Normal{Mu: 0, Sigma: math.Sqrt(variance), Src: src}}
}

// Apply returns a noisy copy of f, or f itself when n is nil.
func (n *Noise) Apply(f Frame) Frame {
	if n == nil {
		return f
	}
	out := NewFrame(f.Width, f.Height)
	for i, p := range f.Pix {
		v := float64(p)/127.5 - 1 + n.dist.Rand()
		v = math.Max(-1, math.Min(1, v))
		out.Pix[i] = uint8(math.Round((v + 1) * 127.5))
	}
	return out
}
