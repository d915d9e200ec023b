package crop

import (
	"image"
	"math"
)

// fitRatio is the share of the container an image initially occupies along its
// driving axis.
const fitRatio = 0.8

// Size is a width and height in display pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Portrait reports whether s is taller than it is wide.
func (s Size) Portrait() bool {
	return s.Height > s.Width
}

// Image holds the intrinsic pixel dimensions of the loaded image.
type Image struct {
	OriginWidth  int `json:"origin_width"`
	OriginHeight int `json:"origin_height"`
}

// Ratio returns width over height.
func (i Image) Ratio() float64 {
	return float64(i.OriginWidth) / float64(i.OriginHeight)
}

// WiderThanTall reports whether the width drives the displayed size.
func (i Image) WiderThanTall() bool {
	return i.OriginWidth > i.OriginHeight
}

// Bounds holds the crop window's edges relative to the container's top-left
// corner.
type Bounds struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// NewBounds centres a crop window of side size in the container.
func NewBounds(container Size, size float64) Bounds {
	top := (container.Height - size) / 2
	left := (container.Width - size) / 2
	return Bounds{
		Top:    top,
		Left:   left,
		Right:  left + size,
		Bottom: top + size,
	}
}

// Fit computes the initial display size for an image with the given ratio
// (width over height). The driving axis takes 80% of the container, the other
// axis follows the ratio, and the result is scaled up when the smaller axis
// would not cover a crop window of side size.
func Fit(container Size, size, ratio float64) Size {
	var fitted Size
	if ratio > 1 {
		fitted.Width = container.Width * fitRatio
		fitted.Height = fitted.Width / ratio
	} else {
		fitted.Height = container.Height * fitRatio
		fitted.Width = fitted.Height * ratio
	}
	return atLeast(fitted, size, ratio)
}

// atLeast scales s up, keeping ratio, until neither axis is below side.
func atLeast(s Size, side, ratio float64) Size {
	if s.Width < side {
		s = Size{Width: side, Height: side / ratio}
	}
	if s.Height < side {
		s = Size{Width: side * ratio, Height: side}
	}
	return s
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Transform is the displayed image's size and its offset from the container's
// top-left corner.
type Transform struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
}

// Size returns the displayed size.
func (t Transform) Size() Size {
	return Size{Width: t.Width, Height: t.Height}
}

// Covers reports whether the transform leaves no gap inside b.
func (t Transform) Covers(b Bounds) bool {
	return t.Top <= b.Top && t.Left <= b.Left &&
		t.Top+t.Height >= b.Bottom && t.Left+t.Width >= b.Right
}

// AreaInfo describes the crop window's offset into the displayed image, in
// display pixels.
type AreaInfo struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Size   float64 `json:"size"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func newAreaInfo(b Bounds, t Transform, size float64) AreaInfo {
	return AreaInfo{
		Top:    b.Top - t.Top,
		Left:   b.Left - t.Left,
		Size:   size,
		Width:  t.Width,
		Height: t.Height,
	}
}

// Rect maps the area into the original image's pixel space. Each axis is
// scaled by the ratio between the intrinsic and the displayed size, and the
// result is clipped to the image.
func (a AreaInfo) Rect(originWidth, originHeight int) image.Rectangle {
	if a.Width <= 0 || a.Height <= 0 {
		return image.Rectangle{}
	}
	sx := float64(originWidth) / a.Width
	sy := float64(originHeight) / a.Height
	r := image.Rect(
		int(math.Round(a.Left*sx)),
		int(math.Round(a.Top*sy)),
		int(math.Round((a.Left+a.Size)*sx)),
		int(math.Round((a.Top+a.Size)*sy)),
	)
	return r.Intersect(image.Rect(0, 0, originWidth, originHeight))
}
