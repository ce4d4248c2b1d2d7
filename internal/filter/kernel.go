package filter

import (
	"math"

	"github.com/gogpu/quill/internal/cache"
)

// GaussianKernel generates a 1D Gaussian kernel for the given radius.
// The kernel is normalized so all values sum to 1.0.
//
// The kernel size is computed as 2 * ceil(radius * 3) + 1, which covers
// 99.7% of the Gaussian distribution (3 standard deviations).
//
// For radius <= 0, returns a single-element kernel [1.0] (identity).
func GaussianKernel(radius float64) []float32 {
	if radius <= 0 {
		return []float32{1.0}
	}

	sigma := radius
	halfSize := int(math.Ceil(sigma * 3))
	size := halfSize*2 + 1

	kernel := make([]float32, size)

	// G(x) = exp(-x²/(2σ²)); the constant factor cancels in normalization.
	twoSigmaSq := 2 * sigma * sigma
	sum := float64(0)

	for i := 0; i < size; i++ {
		x := float64(i - halfSize)
		val := math.Exp(-(x * x) / twoSigmaSq)
		kernel[i] = float32(val)
		sum += val
	}

	if sum > 0 {
		invSum := float32(1.0 / sum)
		for i := range kernel {
			kernel[i] *= invSum
		}
	}

	return kernel
}

// kernels caches Gaussian kernels keyed by radius in hundredths of a
// pixel.
var kernels = cache.NewLRU[int, []float32](64)

// CachedGaussianKernel returns a cached Gaussian kernel for the radius.
func CachedGaussianKernel(radius float64) []float32 {
	key := int(radius * 100)
	if k, ok := kernels.Get(key); ok {
		return k
	}
	k := GaussianKernel(float64(key) / 100)
	kernels.Set(key, k)
	return k
}
