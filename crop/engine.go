// Package crop positions and scales an image under a fixed-size crop window.
//
// An Engine fits the image into its container, keeps the crop window covered
// while pan and pinch gestures move and resize the image, and reports the crop
// window's offset into the displayed image on every committed change.
//
// An Engine is not safe for concurrent use. Every call runs to completion and
// invokes OnChanged synchronously before it returns.
package crop

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSize is the crop window side used when Options.Size is not set.
const DefaultSize = 200

var (
	ErrDegenerateImage = errors.New("image has no pixels")
	ErrNotLoaded       = errors.New("image not loaded")
	ErrLoaded          = errors.New("image already loaded")
	ErrDestroyed       = errors.New("engine destroyed")
)

// State is the lifecycle state of an Engine.
type State uint8

const (
	// StateLoading is the initial state: the image has not resolved yet and
	// gestures are ignored.
	StateLoading State = iota
	// StateReady is reached once the image loaded and the transform was fitted.
	StateReady
	// StateFailed means the image never initialized.
	StateFailed
	// StateDestroyed is final.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// InputSource delivers normalized input events to a handler until the returned
// release function is called.
type InputSource interface {
	Listen(handler func(Event)) (release func(), err error)
}

type Options struct {
	// Size is the side of the crop window in display pixels.
	Size float64
	// Circle only changes how the host draws the window.
	Circle bool
	// OnChanged receives the area after every committed position.
	OnChanged func(AreaInfo)
	// Layout defaults to PixelLayout.
	Layout Layout
	// Input sources are subscribed by New and released by Destroy.
	Input []InputSource
}

type Engine struct {
	opts   Options
	logger *zerolog.Logger

	state   State
	loadErr error
	image   Image

	container Size
	portrait  bool
	bounds    Bounds
	transform Transform
	gesture   gesture

	releases []func()
}

// New returns an engine for a container of the given size and subscribes its
// input sources. Until Load is called with the image's intrinsic size only
// container changes are recorded. If a source fails to subscribe the engine
// starts out failed.
func New(ctx context.Context, container Size, opts Options) *Engine {
	if !positive(opts.Size) {
		opts.Size = DefaultSize
	}
	if opts.Layout == nil {
		opts.Layout = PixelLayout{}
	}
	e := &Engine{
		opts:      opts,
		logger:    log.Ctx(ctx),
		container: container,
		portrait:  container.Portrait(),
		bounds:    NewBounds(container, opts.Size),
	}
	for _, src := range opts.Input {
		release, err := src.Listen(e.Handle)
		if err != nil {
			e.release()
			e.Fail(fmt.Errorf("failed to listen for input: %w", err))
			break
		}
		e.releases = append(e.releases, release)
	}
	return e
}

// Load initializes the geometry for an image of the given intrinsic size: the
// image is fitted, centred and clamped.
func (e *Engine) Load(originWidth, originHeight int) error {
	switch e.state {
	case StateDestroyed:
		return ErrDestroyed
	case StateReady:
		return ErrLoaded
	case StateFailed:
		return e.loadErr
	}
	if originWidth <= 0 || originHeight <= 0 {
		e.Fail(fmt.Errorf("%dx%d: %w", originWidth, originHeight, ErrDegenerateImage))
		return e.loadErr
	}

	e.image = Image{OriginWidth: originWidth, OriginHeight: originHeight}
	e.bounds = NewBounds(e.container, e.opts.Size)
	e.state = StateReady

	fitted := Fit(e.container, e.opts.Size, e.image.Ratio())
	size := e.resize(fitted.Width, fitted.Height)
	e.position((e.container.Height-size.Height)/2, (e.container.Width-size.Width)/2)

	e.logger.Debug().
		Int("origin_width", originWidth).
		Int("origin_height", originHeight).
		Float64("width", e.transform.Width).
		Float64("height", e.transform.Height).
		Msg("crop engine ready")
	return nil
}

// Fail records that the image could not be loaded. It has no effect once the
// engine left StateLoading.
func (e *Engine) Fail(err error) {
	if e.state != StateLoading {
		return
	}
	if err == nil {
		err = ErrNotLoaded
	}
	e.state = StateFailed
	e.loadErr = err
	e.logger.Warn().Err(err).Msg("crop engine failed to initialize")
}

// Destroy releases every input subscription and drops the change callback.
// Calling it again does nothing.
func (e *Engine) Destroy() {
	if e.state == StateDestroyed {
		return
	}
	e.state = StateDestroyed
	e.release()
	e.opts.OnChanged = nil
	e.opts.Input = nil
	e.gesture = gesture{}
	e.logger.Debug().Msg("crop engine destroyed")
}

func (e *Engine) release() {
	for _, release := range e.releases {
		release()
	}
	e.releases = nil
}

func (e *Engine) State() State { return e.state }

// Err returns the reason the engine failed to initialize, if any.
func (e *Engine) Err() error { return e.loadErr }

func (e *Engine) Image() Image         { return e.image }
func (e *Engine) Container() Size      { return e.container }
func (e *Engine) Bounds() Bounds       { return e.bounds }
func (e *Engine) Transform() Transform { return e.transform }
func (e *Engine) Options() Options     { return e.opts }

// AreaInfo returns the current crop area.
func (e *Engine) AreaInfo() (AreaInfo, error) {
	switch e.state {
	case StateReady:
		return newAreaInfo(e.bounds, e.transform, e.opts.Size), nil
	case StateDestroyed:
		return AreaInfo{}, ErrDestroyed
	case StateFailed:
		return AreaInfo{}, fmt.Errorf("%w: %w", ErrNotLoaded, e.loadErr)
	default:
		return AreaInfo{}, ErrNotLoaded
	}
}

// Position moves the image to the proposed offset, clamped so the crop window
// stays covered, and returns the committed transform.
func (e *Engine) Position(top, left float64) Transform {
	if e.state != StateReady {
		return e.transform
	}
	return e.position(top, left)
}

// Resize scales the image towards the proposed size around its centre and
// returns the committed transform. The aspect ratio is kept and neither axis
// goes below the crop window.
func (e *Engine) Resize(width, height float64) Transform {
	if e.state != StateReady {
		return e.transform
	}
	return e.zoom(width, height)
}

// position is the only place a position is committed.
func (e *Engine) position(top, left float64) Transform {
	b := e.bounds
	t := e.transform

	if math.IsNaN(top) {
		top = t.Top
	}
	if math.IsNaN(left) {
		left = t.Left
	}

	if top > b.Top {
		top = b.Top
	} else if top+t.Height < b.Bottom {
		top = b.Bottom - t.Height
	}
	if left > b.Left {
		left = b.Left
	} else if left+t.Width < b.Right {
		left = b.Right - t.Width
	}

	e.transform.Top = top
	e.transform.Left = left
	e.emit()
	return e.transform
}

// resize commits a new size through the layout and reads it back. A size the
// layout rounded below the crop window is corrected once.
func (e *Engine) resize(width, height float64) Size {
	side := e.opts.Size
	ratio := e.image.Ratio()

	want := Size{Width: width, Height: height}
	if !positive(width) || !positive(height) {
		want = Size{}
	}
	if e.image.WiderThanTall() {
		want.Height = want.Width / ratio
	} else {
		want.Width = want.Height * ratio
	}

	got := e.commit(atLeast(want, side, ratio))
	if got.Width < side || got.Height < side {
		got = e.commit(atLeast(got, side, ratio))
	}
	if got.Width < side || got.Height < side {
		e.logger.Debug().
			Float64("width", got.Width).
			Float64("height", got.Height).
			Msg("layout committed a size below the crop window")
		got = atLeast(got, side, ratio)
	}

	e.transform.Width = got.Width
	e.transform.Height = got.Height
	return got
}

func (e *Engine) commit(s Size) Size {
	wide := e.image.WiderThanTall()
	driving := s.Height
	if wide {
		driving = s.Width
	}
	return e.opts.Layout.Commit(driving, e.image.Ratio(), wide)
}

// zoom resizes and shifts the image by half the realised size change so the
// zoom stays centred, then clamps.
func (e *Engine) zoom(width, height float64) Transform {
	before := e.transform
	size := e.resize(width, height)
	return e.position(
		before.Top-(size.Height-before.Height)/2,
		before.Left-(size.Width-before.Width)/2,
	)
}

func (e *Engine) emit() {
	fn := e.opts.OnChanged
	if fn == nil {
		return
	}
	info := newAreaInfo(e.bounds, e.transform, e.opts.Size)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().Interface("panic", r).Msg("crop change callback panicked")
		}
	}()
	fn(info)
}
