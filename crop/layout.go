package crop

import "math"

// Layout realises a requested image size the way the host renderer would and
// reports the size it actually committed. Only the driving axis is requested:
// the width when widthDriven is set, the height otherwise. The renderer derives
// the other axis from ratio (width over height).
type Layout interface {
	Commit(driving, ratio float64, widthDriven bool) Size
}

// ExactLayout commits sizes without any rounding.
type ExactLayout struct{}

func (ExactLayout) Commit(driving, ratio float64, widthDriven bool) Size {
	if widthDriven {
		return Size{Width: driving, Height: driving / ratio}
	}
	return Size{Width: driving * ratio, Height: driving}
}

// PixelLayout snaps both axes to whole pixels, as a browser reports
// offsetWidth and offsetHeight for an element sized on one axis.
type PixelLayout struct{}

func (PixelLayout) Commit(driving, ratio float64, widthDriven bool) Size {
	driving = math.Round(driving)
	if widthDriven {
		return Size{Width: driving, Height: math.Round(driving / ratio)}
	}
	return Size{Width: math.Round(driving * ratio), Height: driving}
}
