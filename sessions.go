package main

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"imagecrop/crop"
)

// Session is one image being framed in a browser. The browser streams its
// normalized gestures into the session's feed and reads the area back.
type Session struct {
	ID       string
	Filename string

	loaded chan struct{}

	mu      sync.Mutex
	engine  *crop.Engine
	feed    *crop.Feed
	area    crop.AreaInfo
	changes int
}

type SessionState struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Circle    bool            `json:"circle"`
	Image     crop.Image      `json:"image"`
	Container crop.Size       `json:"container"`
	Bounds    crop.Bounds     `json:"bounds"`
	Transform crop.Transform  `json:"transform"`
	Area      *crop.AreaInfo  `json:"area,omitempty"`
	Rect      image.Rectangle `json:"rect"`
	Gesture   string          `json:"gesture"`
	Changes   int             `json:"changes"`
}

type OpenRequest struct {
	File      string    `json:"file"`
	Container crop.Size `json:"container"`
	Size      float64   `json:"size"`
	Circle    bool      `json:"circle"`
}

// SessionStore owns every open session and the goroutines resolving their
// images.
type SessionStore struct {
	rootDir     string
	defaultSize float64

	mu       sync.Mutex
	sessions map[string]*Session
	loads    conc.WaitGroup
}

func NewSessionStore(rootDir string, defaultSize float64) *SessionStore {
	return &SessionStore{
		rootDir:     rootDir,
		defaultSize: defaultSize,
		sessions:    make(map[string]*Session),
	}
}

// Open creates a session and starts resolving the image's intrinsic size in
// the background. The engine ignores gestures until that completes.
func (s *SessionStore) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	filePath, err := resolvePath(s.rootDir, req.File)
	if err != nil {
		return nil, err
	}
	if !isImage(filePath) {
		return nil, fmt.Errorf("unsupported image %q", req.File)
	}
	size := req.Size
	if size <= 0 {
		size = s.defaultSize
	}

	sess := newSession(ctx, req, size)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Ctx(ctx).Debug().Str("session", sess.ID).Str("filename", req.File).Msg("session opened")

	s.loads.Go(func() {
		sess.load(ctx, filePath)
	})
	return sess, nil
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Close destroys the session's engine and forgets it.
func (s *SessionStore) Close(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.destroy()
	}
	return ok
}

// CloseAll destroys every session and waits for pending image loads.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.destroy()
	}
	s.loads.Wait()
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// newSession wires an engine to the session's feed. Container changes applied
// before load reach the engine and shape the initial fit.
func newSession(ctx context.Context, req OpenRequest, size float64) *Session {
	sess := &Session{
		ID:       uuid.NewString(),
		Filename: req.File,
		loaded:   make(chan struct{}),
		feed:     &crop.Feed{},
	}
	sess.engine = crop.New(ctx, req.Container, crop.Options{
		Size:      size,
		Circle:    req.Circle,
		OnChanged: sess.onChanged,
		Input:     []crop.InputSource{sess.feed},
	})
	return sess
}

func (sess *Session) load(ctx context.Context, filePath string) {
	defer close(sess.loaded)

	w, h, err := imageDimensions(filePath)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		sess.engine.Fail(err)
		return
	}
	if err := sess.engine.Load(w, h); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session", sess.ID).Msg("failed to initialize session")
	}
}

// Wait blocks until the image resolved or ctx is done.
func (sess *Session) Wait(ctx context.Context) error {
	select {
	case <-sess.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onChanged runs under sess.mu: every engine call is made with it held.
func (sess *Session) onChanged(a crop.AreaInfo) {
	sess.area = a
	sess.changes++
}

// Apply feeds events to the engine in order and returns the resulting state.
func (sess *Session) Apply(events []crop.Event) SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.feed.Push(events...)
	return sess.state()
}

func (sess *Session) State() SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state()
}

// Crop returns the session's current area relative to the image.
func (sess *Session) Crop() (Crop, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	area, err := sess.engine.AreaInfo()
	if err != nil {
		return Crop{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return CropFromArea(area), nil
}

func (sess *Session) destroy() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.engine.Destroy()
}

func (sess *Session) state() SessionState {
	e := sess.engine
	st := SessionState{
		ID:        sess.ID,
		Filename:  sess.Filename,
		State:     e.State().String(),
		Circle:    e.Options().Circle,
		Image:     e.Image(),
		Container: e.Container(),
		Bounds:    e.Bounds(),
		Transform: e.Transform(),
		Gesture:   e.GestureState().String(),
		Changes:   sess.changes,
	}
	if err := e.Err(); err != nil {
		st.Error = err.Error()
	}
	if area, err := e.AreaInfo(); err == nil {
		st.Area = &area
		img := e.Image()
		st.Rect = area.Rect(img.OriginWidth, img.OriginHeight)
	}
	return st
}
