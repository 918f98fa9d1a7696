package imagery

import "github.com/tphakala/forestwatch/internal/logger"

// Normalize scales img by its maximum value so the brightest element becomes
// 1. An image whose maximum is not positive normalizes to all zeros. The
// input is not modified.
func Normalize(img *Image) *Image {
	out := img.Clone()
	peak := img.Max()
	if peak <= 0 {
		GetLogger().Debug("degenerate image normalized to zeros", logger.Float32("max", peak))
		clear(out.Pix)
		return out
	}
	for i, v := range out.Pix {
		out.Pix[i] = v / peak
	}
	return out
}
