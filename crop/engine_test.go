package crop

import (
	"context"
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

// recorder collects every emitted area.
type recorder struct {
	areas []AreaInfo
}

func (r *recorder) onChanged(a AreaInfo) {
	r.areas = append(r.areas, a)
}

func (r *recorder) last(t *testing.T) AreaInfo {
	t.Helper()
	if len(r.areas) == 0 {
		t.Fatal("no area emitted")
	}
	return r.areas[len(r.areas)-1]
}

func newEngine(t *testing.T, container Size, originWidth, originHeight int) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := New(context.Background(), container, Options{Size: 200, OnChanged: rec.onChanged})
	if err := e.Load(originWidth, originHeight); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return e, rec
}

// newSquare returns a 400x400 image fitted to 240x240 at (30, 30) in a 300x300
// container with a 200px crop window at (50, 50).
func newSquare(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	e, rec := newEngine(t, Size{300, 300}, 400, 400)
	if got, want := e.Transform(), (Transform{Width: 240, Height: 240, Top: 30, Left: 30}); got != want {
		t.Fatalf("initial Transform() = %+v, want %+v", got, want)
	}
	return e, rec
}

func checkInvariants(t *testing.T, e *Engine) {
	t.Helper()
	tr := e.Transform()
	b := e.Bounds()
	side := e.Options().Size
	img := e.Image()

	if got, want := tr.Width/tr.Height, img.Ratio(); math.Abs(got-want)/want > 0.01 {
		t.Errorf("aspect ratio = %v, want %v (transform %+v)", got, want, tr)
	}
	if tr.Width < side || tr.Height < side {
		t.Errorf("transform %+v smaller than crop window %v", tr, side)
	}
	if tr.Top > b.Top+eps || tr.Left > b.Left+eps ||
		tr.Top+tr.Height < b.Bottom-eps || tr.Left+tr.Width < b.Right-eps {
		t.Errorf("transform %+v does not cover bounds %+v", tr, b)
	}
}

func TestLoadWideImage(t *testing.T) {
	e, rec := newEngine(t, Size{300, 300}, 400, 200)

	if got, want := e.Transform(), (Transform{Width: 400, Height: 200, Top: 50, Left: -50}); got != want {
		t.Errorf("Transform() = %+v, want %+v", got, want)
	}
	if got, want := rec.last(t), (AreaInfo{Top: 0, Left: 100, Size: 200, Width: 400, Height: 200}); got != want {
		t.Errorf("emitted %+v, want %+v", got, want)
	}
	if len(rec.areas) != 1 {
		t.Errorf("emitted %d areas on load, want 1", len(rec.areas))
	}
	checkInvariants(t, e)
}

func TestLoadTallImage(t *testing.T) {
	e, _ := newEngine(t, Size{300, 300}, 200, 400)

	if got, want := e.Transform(), (Transform{Width: 200, Height: 400, Top: -50, Left: 50}); got != want {
		t.Errorf("Transform() = %+v, want %+v", got, want)
	}
	checkInvariants(t, e)
}

func TestLoadDefaults(t *testing.T) {
	e := New(context.Background(), Size{500, 500}, Options{})
	if got := e.Options().Size; got != DefaultSize {
		t.Errorf("Size = %v, want %v", got, DefaultSize)
	}
	if _, ok := e.Options().Layout.(PixelLayout); !ok {
		t.Errorf("Layout = %T, want PixelLayout", e.Options().Layout)
	}
	if _, err := e.AreaInfo(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("AreaInfo() before load error = %v, want %v", err, ErrNotLoaded)
	}
	if err := e.Load(1000, 1000); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := e.Load(1000, 1000); !errors.Is(err, ErrLoaded) {
		t.Errorf("second Load() error = %v, want %v", err, ErrLoaded)
	}
	if got, want := e.Transform(), (Transform{Width: 400, Height: 400, Top: 50, Left: 50}); got != want {
		t.Errorf("Transform() = %+v, want %+v", got, want)
	}
}

func TestLoadDegenerateImage(t *testing.T) {
	rec := &recorder{}
	e := New(context.Background(), Size{300, 300}, Options{OnChanged: rec.onChanged})

	err := e.Load(0, 100)
	if !errors.Is(err, ErrDegenerateImage) {
		t.Fatalf("Load() error = %v, want %v", err, ErrDegenerateImage)
	}
	if e.State() != StateFailed {
		t.Errorf("State() = %v, want %v", e.State(), StateFailed)
	}
	if err := e.Load(100, 100); !errors.Is(err, ErrDegenerateImage) {
		t.Errorf("Load() after failure error = %v, want %v", err, ErrDegenerateImage)
	}

	e.Handle(Start{Points: []Point{{0, 0}}})
	e.Handle(Move{Points: []Point{{50, 50}}})
	e.Position(10, 10)
	if len(rec.areas) != 0 {
		t.Errorf("failed engine emitted %d areas", len(rec.areas))
	}
	if _, err := e.AreaInfo(); !errors.Is(err, ErrNotLoaded) || !errors.Is(err, ErrDegenerateImage) {
		t.Errorf("AreaInfo() error = %v, want both %v and %v", err, ErrNotLoaded, ErrDegenerateImage)
	}
}

func TestFail(t *testing.T) {
	e := New(context.Background(), Size{300, 300}, Options{})
	loadErr := errors.New("404")
	e.Fail(loadErr)
	if e.State() != StateFailed || !errors.Is(e.Err(), loadErr) {
		t.Errorf("State() = %v, Err() = %v", e.State(), e.Err())
	}
	if err := e.Load(100, 100); !errors.Is(err, loadErr) {
		t.Errorf("Load() error = %v, want %v", err, loadErr)
	}
}

func TestPositionClamp(t *testing.T) {
	tests := []struct {
		name      string
		top, left float64
		want      Transform
	}{
		{"inside", 20, 40, Transform{Width: 240, Height: 240, Top: 20, Left: 40}},
		{"past the top left edges", 100, 100, Transform{Width: 240, Height: 240, Top: 50, Left: 50}},
		{"past the bottom right edges", -100, -100, Transform{Width: 240, Height: 240, Top: 10, Left: 10}},
		{"far outside", -1e9, 1e9, Transform{Width: 240, Height: 240, Top: 10, Left: 50}},
		{"not a number", math.NaN(), 15, Transform{Width: 240, Height: 240, Top: 30, Left: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newSquare(t)
			got := e.Position(tt.top, tt.left)
			if got != tt.want {
				t.Errorf("Position() = %+v, want %+v", got, tt.want)
			}
			if e.Transform() != got {
				t.Errorf("Transform() = %+v, want %+v", e.Transform(), got)
			}
			want := AreaInfo{Top: 50 - got.Top, Left: 50 - got.Left, Size: 200, Width: 240, Height: 240}
			if a := rec.last(t); a != want {
				t.Errorf("emitted %+v, want %+v", a, want)
			}
			checkInvariants(t, e)
		})
	}
}

func TestPositionIdempotent(t *testing.T) {
	e, rec := newSquare(t)
	first := e.Position(25, 35)
	second := e.Position(first.Top, first.Left)
	if first != second {
		t.Errorf("second Position() = %+v, want %+v", second, first)
	}
	n := len(rec.areas)
	if n != 3 {
		t.Fatalf("emitted %d areas, want 3", n)
	}
	if rec.areas[n-1] != rec.areas[n-2] {
		t.Errorf("emitted %+v then %+v", rec.areas[n-2], rec.areas[n-1])
	}
}

func TestResize(t *testing.T) {
	tests := []struct {
		name          string
		width, height float64
		want          Transform
	}{
		{"grow around the centre", 300, 300, Transform{Width: 300, Height: 300, Top: 0, Left: 0}},
		{"shrink to the crop window", 100, 100, Transform{Width: 200, Height: 200, Top: 50, Left: 50}},
		{"negative proposal", -10, -10, Transform{Width: 200, Height: 200, Top: 50, Left: 50}},
		{"not a number", math.NaN(), 260, Transform{Width: 200, Height: 200, Top: 50, Left: 50}},
		{"mismatched proposal keeps the ratio", 280, 500, Transform{Width: 500, Height: 500, Top: -100, Left: -100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newSquare(t)
			if got := e.Resize(tt.width, tt.height); got != tt.want {
				t.Errorf("Resize() = %+v, want %+v", got, tt.want)
			}
			checkInvariants(t, e)
		})
	}
}

func TestResizeKeepsMinimumThroughRounding(t *testing.T) {
	// The pixel layout rounds the 300.3px width a 200.2px crop window needs
	// for a 3:2 image, which leaves the height short.
	e := New(context.Background(), Size{320, 320}, Options{Size: 200.2})
	if err := e.Load(3000, 2000); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, tr := range []Transform{e.Transform(), e.Resize(0, 0)} {
		if math.Abs(tr.Width-300.3) > eps || math.Abs(tr.Height-200.2) > eps {
			t.Errorf("transform = %+v, want 300.3x200.2", tr)
		}
		checkInvariants(t, e)
	}
}

func TestChangeCallbackPanics(t *testing.T) {
	calls := 0
	e := New(context.Background(), Size{300, 300}, Options{
		OnChanged: func(AreaInfo) {
			calls++
			panic("consumer bug")
		},
	})
	if err := e.Load(400, 400); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := e.Position(20, 20)
	if want := (Transform{Width: 240, Height: 240, Top: 20, Left: 20}); got != want {
		t.Errorf("Position() = %+v, want %+v", got, want)
	}
	if calls != 2 {
		t.Errorf("callback called %d times, want 2", calls)
	}
}

type failingSource struct{}

func (failingSource) Listen(func(Event)) (func(), error) {
	return nil, errors.New("no input device")
}

func TestDestroy(t *testing.T) {
	feed := &Feed{}
	rec := &recorder{}
	e := New(context.Background(), Size{300, 300}, Options{
		OnChanged: rec.onChanged,
		Input:     []InputSource{feed},
	})
	if feed.Listeners() != 1 {
		t.Fatalf("Listeners() = %d after New, want 1", feed.Listeners())
	}
	if err := e.Load(400, 400); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	feed.Push(Start{Points: []Point{{0, 0}}}, Move{Points: []Point{{-10, -10}}})
	if got := e.Transform(); got.Top != 20 || got.Left != 20 {
		t.Errorf("Transform() after pan = %+v", got)
	}

	e.Destroy()
	e.Destroy()
	if feed.Listeners() != 0 {
		t.Errorf("Listeners() = %d after destroy, want 0", feed.Listeners())
	}
	if e.State() != StateDestroyed {
		t.Errorf("State() = %v, want %v", e.State(), StateDestroyed)
	}

	n := len(rec.areas)
	feed.Push(Move{Points: []Point{{-20, -20}}})
	e.Handle(Move{Points: []Point{{-20, -20}}})
	e.Position(0, 0)
	if len(rec.areas) != n {
		t.Errorf("destroyed engine emitted %d more areas", len(rec.areas)-n)
	}
	if err := e.Load(400, 400); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Load() after destroy error = %v, want %v", err, ErrDestroyed)
	}
	if _, err := e.AreaInfo(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("AreaInfo() after destroy error = %v, want %v", err, ErrDestroyed)
	}
}

func TestListenError(t *testing.T) {
	feed := &Feed{}
	rec := &recorder{}
	e := New(context.Background(), Size{300, 300}, Options{
		OnChanged: rec.onChanged,
		Input:     []InputSource{feed, failingSource{}},
	})
	if e.State() != StateFailed {
		t.Errorf("State() = %v, want %v", e.State(), StateFailed)
	}
	if feed.Listeners() != 0 {
		t.Errorf("Listeners() = %d, want 0", feed.Listeners())
	}
	if err := e.Load(400, 400); err == nil {
		t.Fatal("Load() error = nil")
	}
	if len(rec.areas) != 0 {
		t.Errorf("failed engine emitted %d areas", len(rec.areas))
	}
	if _, err := e.AreaInfo(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("AreaInfo() error = %v, want %v", err, ErrNotLoaded)
	}
	e.Destroy()
}

func TestFeedContainerResizeBeforeLoad(t *testing.T) {
	feed := &Feed{}
	e := New(context.Background(), Size{300, 300}, Options{Input: []InputSource{feed}})
	feed.Push(
		ContainerResize{Size: Size{300, 500}},
		Start{Points: []Point{{0, 0}}},
	)
	if got := e.Container(); got != (Size{300, 500}) {
		t.Fatalf("Container() = %+v, want 300x500", got)
	}
	if got := e.GestureState(); got != GestureIdle {
		t.Errorf("GestureState() = %v before load, want idle", got)
	}

	if err := e.Load(400, 400); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := (Bounds{Top: 150, Right: 250, Bottom: 350, Left: 50}); e.Bounds() != want {
		t.Errorf("Bounds() = %+v, want %+v", e.Bounds(), want)
	}
	if want := (Transform{Width: 400, Height: 400, Top: 50, Left: -50}); e.Transform() != want {
		t.Errorf("Transform() = %+v, want %+v", e.Transform(), want)
	}
}
