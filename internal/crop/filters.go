package crop

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CropFilter describes the crop region in pixels of the oriented asset as
// crop=W:H:X:Y. It is absent when no area was chosen.
func CropFilter(rec Record) (string, bool) {
	if rec.Area == nil {
		return "", false
	}
	w := float64(rec.Asset.OrientedWidth)
	h := float64(rec.Asset.OrientedHeight)
	return fmt.Sprintf("crop=%d:%d:%d:%d",
		pixels(rec.Area.Width*w),
		pixels(rec.Area.Height*h),
		pixels(rec.Area.Left*w),
		pixels(rec.Area.Top*h),
	), true
}

// ScaleFilter multiplies input width and height by the recorded zoom. It is
// absent when no geometry was recorded.
func ScaleFilter(rec Record) (string, bool) {
	if rec.Geometry == nil {
		return "", false
	}
	f := formatFloat(rec.Geometry.Scale)
	return "scale=iw*" + f + ":ih*" + f, true
}

// RotateFilter expresses the rotation in radians. Zero turns yields no
// filter rather than a no-op one.
func RotateFilter(rec Record) (string, bool) {
	turns := NormalizeRotation(rec.Rotation)
	if turns == 0 {
		return "", false
	}
	return "rotate=" + formatFloat(float64(turns)*90*math.Pi/180), true
}

// FilterChain joins the present descriptors in crop, scale, rotate order.
func FilterChain(rec Record) string {
	var parts []string
	for _, f := range []func(Record) (string, bool){CropFilter, ScaleFilter, RotateFilter} {
		if s, ok := f(rec); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}

func pixels(v float64) int {
	return int(math.Round(v))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
