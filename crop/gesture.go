package crop

import "math"

// Point is a contact position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one normalized input notification. The concrete types are Start,
// Move, End, Cancel, ContainerResize and OrientationChange.
type Event interface {
	event()
}

// Start reports contacts touching down. Points holds every active contact.
type Start struct {
	Points []Point
}

// Move reports the current position of every active contact.
type Move struct {
	Points []Point
}

// End reports contacts lifting. Points holds the contacts still down.
type End struct {
	Points []Point
}

// Cancel aborts the gesture in progress.
type Cancel struct{}

// ContainerResize reports the container's new size.
type ContainerResize struct {
	Size Size
}

// OrientationChange reports the container's size after a device orientation
// notification. It is only acted on when the size flips between portrait and
// landscape.
type OrientationChange struct {
	Size Size
}

func (Start) event()             {}
func (Move) event()              {}
func (End) event()               {}
func (Cancel) event()            {}
func (ContainerResize) event()   {}
func (OrientationChange) event() {}

// GestureState is the state of the gesture recognizer.
type GestureState uint8

const (
	// GestureIdle means no contact is down.
	GestureIdle GestureState = iota
	// GesturePanning tracks a single contact.
	GesturePanning
	// GesturePinching tracks two contacts.
	GesturePinching
)

func (s GestureState) String() string {
	switch s {
	case GesturePanning:
		return "panning"
	case GesturePinching:
		return "pinching"
	default:
		return "idle"
	}
}

// gesture holds the contacts captured when the gesture started or last changed
// contact count, and the transform at that moment.
type gesture struct {
	state  GestureState
	first  Point
	second Point
	anchor Transform
}

func (g gesture) contacts() int {
	switch g.state {
	case GesturePanning:
		return 1
	case GesturePinching:
		return 2
	default:
		return 0
	}
}

func contacts(points []Point) int {
	return min(len(points), 2)
}

// GestureState reports what the recognizer is tracking.
func (e *Engine) GestureState() GestureState { return e.gesture.state }

// Handle applies one input event. Before the image loads only container
// changes are recorded; after a failed load or Destroy every event is dropped.
func (e *Engine) Handle(ev Event) {
	switch e.state {
	case StateReady:
	case StateLoading:
		switch ev := ev.(type) {
		case ContainerResize:
			e.onResize(ev.Size)
		case OrientationChange:
			e.onOrientationChange(ev.Size)
		}
		return
	default:
		return
	}

	switch ev := ev.(type) {
	case Start:
		e.onStart(ev.Points)
	case Move:
		e.onMove(ev.Points)
	case End:
		e.onEnd(ev.Points)
	case Cancel:
		e.onEnd(nil)
	case ContainerResize:
		e.onResize(ev.Size)
	case OrientationChange:
		e.onOrientationChange(ev.Size)
	}
}

func (e *Engine) capture(points []Point) {
	g := gesture{anchor: e.transform}
	switch contacts(points) {
	case 1:
		g.state = GesturePanning
		g.first = points[0]
	case 2:
		g.state = GesturePinching
		g.first, g.second = points[0], points[1]
	}
	if g.state != e.gesture.state {
		e.logger.Debug().
			Stringer("from", e.gesture.state).
			Stringer("to", g.state).
			Msg("gesture changed")
	}
	e.gesture = g
}

func (e *Engine) onStart(points []Point) {
	if len(points) == 0 {
		return
	}
	e.capture(points)
}

func (e *Engine) onMove(points []Point) {
	if e.gesture.state == GestureIdle {
		return
	}
	// A contact came or went without a start or end: start over from here.
	if contacts(points) != e.gesture.contacts() {
		e.capture(points)
		return
	}
	switch e.gesture.state {
	case GesturePanning:
		e.pan(points[0])
	case GesturePinching:
		e.pinch(points[0], points[1])
	}
}

func (e *Engine) pan(p Point) {
	g := e.gesture
	e.position(g.anchor.Top+p.Y-g.first.Y, g.anchor.Left+p.X-g.first.X)
}

func (e *Engine) pinch(a, b Point) {
	g := &e.gesture

	oldDX := math.Abs(g.first.X - g.second.X)
	oldDY := math.Abs(g.first.Y - g.second.Y)
	newDX := math.Abs(b.X - a.X)
	newDY := math.Abs(b.Y - a.Y)

	delta := newDY - oldDY
	if dx := newDX - oldDX; math.Abs(dx) > math.Abs(delta) {
		delta = dx
	}

	t := e.transform
	e.zoom(t.Width+delta, t.Height+delta)

	// Only distances are compared, so the order of the pair does not matter.
	g.first, g.second = b, a
}

func (e *Engine) onEnd(remaining []Point) {
	if contacts(remaining) > 0 {
		e.capture(remaining)
		return
	}
	if e.gesture.state != GestureIdle {
		e.logger.Debug().
			Stringer("from", e.gesture.state).
			Float64("top", e.transform.Top).
			Float64("left", e.transform.Left).
			Float64("width", e.transform.Width).
			Float64("height", e.transform.Height).
			Msg("gesture ended")
	}
	e.gesture = gesture{}
}

// onResize recomputes the bounds for the new container and keeps the image
// anchored by shifting it half the size change before clamping.
func (e *Engine) onResize(container Size) {
	e.portrait = container.Portrait()
	if container == e.container {
		return
	}
	prev := e.container
	e.container = container
	e.bounds = NewBounds(container, e.opts.Size)

	e.logger.Debug().
		Float64("width", container.Width).
		Float64("height", container.Height).
		Msg("container resized")

	if e.state != StateReady {
		return
	}
	dy := (container.Height - prev.Height) / 2
	dx := (container.Width - prev.Width) / 2
	t := e.transform
	e.position(t.Top+dy, t.Left+dx)

	// Keep a running pan relative to the moved image.
	e.gesture.anchor.Top += dy
	e.gesture.anchor.Left += dx
}

func (e *Engine) onOrientationChange(container Size) {
	if container.Portrait() == e.portrait {
		return
	}
	e.onResize(container)
}
