package transcode

import (
	"math"
	"strconv"
	"strings"
)

// QualityScale is the width of the encoder's quality-factor range. Lower
// values mean higher visual quality.
const QualityScale = 40

// DefaultCompression is used when the submitted compression cannot be parsed.
const DefaultCompression = 1.0

// QualityParam maps a compression value in [0,1] to the encoder quality
// factor. compression=1 gives 0 (best), compression=0 gives QualityScale.
func QualityParam(compression float64) int {
	q := int(math.Round((1 - compression) * QualityScale))
	if q < 0 {
		return 0
	}
	if q > QualityScale {
		return QualityScale
	}
	return q
}

// ParseCompression reads a user-supplied compression value. Anything that is
// not a finite number becomes DefaultCompression; numbers are clamped to [0,1].
func ParseCompression(s string) float64 {
	c, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(c) || math.IsInf(c, 0) {
		return DefaultCompression
	}
	return math.Max(0, math.Min(1, c))
}
