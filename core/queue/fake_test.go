package queue

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/model"

	"github.com/google/uuid"
)

// fakeTrack 由测试手动结束的曲目
type fakeTrack struct {
	id     uuid.UUID
	source string

	mu       sync.Mutex
	mode     model.PlayMode
	loops    int
	position time.Duration
	volume   float64
	onEnd    []func()
	failPlay bool
}

func (t *fakeTrack) ID() uuid.UUID { return t.id }

func (t *fakeTrack) active() bool {
	return t.mode == model.PlayModePlaying || t.mode == model.PlayModePaused
}

func (t *fakeTrack) set(fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active() {
		return playback.ErrTrackInactive
	}
	return fn()
}

func (t *fakeTrack) Play() error {
	return t.set(func() error {
		if t.failPlay {
			return errors.New("driver rejected play")
		}
		t.mode = model.PlayModePlaying
		return nil
	})
}

func (t *fakeTrack) Pause() error {
	return t.set(func() error { t.mode = model.PlayModePaused; return nil })
}

func (t *fakeTrack) Seek(p time.Duration) error {
	return t.set(func() error { t.position = p; return nil })
}

func (t *fakeTrack) SetVolume(v float64) error {
	return t.set(func() error { t.volume = v; return nil })
}

func (t *fakeTrack) EnableLoop() error { return t.LoopFor(model.LoopInfinite) }

func (t *fakeTrack) DisableLoop() error { return t.LoopFor(0) }

func (t *fakeTrack) LoopFor(n int) error {
	return t.set(func() error { t.loops = n; return nil })
}

func (t *fakeTrack) State() (model.PlaybackState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.PlaybackState{Mode: t.mode, Loops: t.loops, Position: t.position, Volume: t.volume}, nil
}

func (t *fakeTrack) OnEnd(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnd = append(t.onEnd, fn)
}

func (t *fakeTrack) end(mode model.PlayMode) {
	t.mu.Lock()
	if !t.active() {
		t.mu.Unlock()
		return
	}
	t.mode = mode
	callbacks := append([]func(){}, t.onEnd...)
	t.mu.Unlock()
	go func() {
		for _, fn := range callbacks {
			fn()
		}
	}()
}

func (t *fakeTrack) Stop() error {
	t.end(model.PlayModeStopped)
	return nil
}

// finish 模拟曲目自然播放结束
func (t *fakeTrack) finish() {
	t.end(model.PlayModeEnded)
}

func (t *fakeTrack) snapshot() model.PlaybackState {
	st, _ := t.State()
	return st
}

type fakeConn struct {
	mu         sync.Mutex
	tracks     []*fakeTrack
	members    []playback.Member
	listeners  []func(playback.MembershipEvent)
	released   atomic.Bool
	failCreate map[string]bool
	failPlay   map[string]bool
}

func newFakeConn(members ...playback.Member) *fakeConn {
	return &fakeConn{
		members:    members,
		failCreate: make(map[string]bool),
		failPlay:   make(map[string]bool),
	}
}

func (c *fakeConn) CreateTrack(_ context.Context, source string, _ *model.ExtractedMetadata) (playback.TrackHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCreate[source] {
		return nil, errors.New("driver rejected track")
	}
	t := &fakeTrack{
		id:       uuid.New(),
		source:   source,
		mode:     model.PlayModePaused,
		volume:   1,
		failPlay: c.failPlay[source],
	}
	c.tracks = append(c.tracks, t)
	return t, nil
}

func (c *fakeConn) Members(context.Context) ([]playback.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]playback.Member(nil), c.members...), nil
}

func (c *fakeConn) OnMembership(fn func(playback.MembershipEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *fakeConn) Release(context.Context) error {
	c.released.Store(true)
	return nil
}

func (c *fakeConn) notify(ev playback.MembershipEvent) {
	c.mu.Lock()
	listeners := append([]func(playback.MembershipEvent){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// track 返回该来源最近创建的曲目
func (c *fakeConn) track(source string) *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.tracks) - 1; i >= 0; i-- {
		if c.tracks[i].source == source {
			return c.tracks[i]
		}
	}
	return nil
}

// playing 当前处于播放状态的曲目来源
func (c *fakeConn) playing() []string {
	c.mu.Lock()
	tracks := append([]*fakeTrack(nil), c.tracks...)
	c.mu.Unlock()
	var out []string
	for _, t := range tracks {
		if t.snapshot().Mode == model.PlayModePlaying {
			out = append(out, t.source)
		}
	}
	return out
}

type fakePlaylist struct {
	info    model.PlaylistMin
	members []string // "!" 开头表示解析失败
}

type fakeExtractor struct {
	mu        sync.Mutex
	media     map[string]model.ExtractedMetadata
	playlists map[string]fakePlaylist
	calls     atomic.Int32
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		media:     make(map[string]model.ExtractedMetadata),
		playlists: make(map[string]fakePlaylist),
	}
}

func (e *fakeExtractor) add(source, title string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.media[source] = model.ExtractedMetadata{Title: title, Uploader: "uploader-" + source, Duration: d}
}

func (e *fakeExtractor) Name() string { return "fake" }

func (e *fakeExtractor) Resolve(_ context.Context, source string) (*extractor.Media, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, ok := e.media[source]
	if !ok {
		return nil, extractor.ErrExtractionFailed
	}
	return &extractor.Media{Source: source, Metadata: meta}, nil
}

func (e *fakeExtractor) ResolvePlaylist(ctx context.Context, id string) (*extractor.Playlist, error) {
	e.mu.Lock()
	pl, ok := e.playlists[id]
	e.mu.Unlock()
	if !ok {
		return nil, extractor.ErrExtractionFailed
	}
	var members iter.Seq2[*extractor.Media, error] = func(yield func(*extractor.Media, error) bool) {
		for _, src := range pl.members {
			if src[0] == '!' {
				if !yield(nil, extractor.ErrExtractionFailed) {
					return
				}
				continue
			}
			media, err := e.Resolve(ctx, src)
			if err != nil {
				media = &extractor.Media{Source: src}
				err = nil
			}
			if !yield(media, err) {
				return
			}
		}
	}
	return &extractor.Playlist{Info: pl.info, Members: members}, nil
}

func (c *fakeConn) rejectCreate(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCreate[source] = true
}

func (c *fakeConn) rejectPlay(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPlay[source] = true
}

// deactivate 曲目失效但不触发结束回调
func (t *fakeTrack) deactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = model.PlayModeEnded
}
