package proc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/sys"
)

const (
	testGuild = snowflake.ID(1001)
	testVoice = snowflake.ID(2002)
	testText  = snowflake.ID(3003)
)

type fakeConn struct {
	mu      sync.Mutex
	played  []*PlayableHandle
	onEnd   func(error)
	playErr map[string]error
	paused  bool
	stops   int
	closed  bool
}

func (f *fakeConn) Play(h *PlayableHandle, onEnd func(error)) error {
	f.mu.Lock()
	if err := f.playErr[h.Track.ID]; err != nil {
		f.mu.Unlock()
		return err
	}
	prev := f.onEnd
	f.played = append(f.played, h)
	f.onEnd = onEnd
	f.paused = false
	f.mu.Unlock()
	if prev != nil {
		prev(nil)
	}
	return nil
}

func (f *fakeConn) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeConn) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeConn) Stop() {
	f.mu.Lock()
	f.stops++
	end := f.onEnd
	f.onEnd = nil
	f.mu.Unlock()
	if end != nil {
		end(nil)
	}
}

func (f *fakeConn) Close(ctx context.Context) {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// finish simulates the current track running out.
func (f *fakeConn) finish(err error) {
	f.mu.Lock()
	end := f.onEnd
	f.onEnd = nil
	f.mu.Unlock()
	if end != nil {
		end(err)
	}
}

func (f *fakeConn) currentEnd() func(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onEnd
}

func (f *fakeConn) playedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.played))
	for i, h := range f.played {
		out[i] = h.Track.ID
	}
	return out
}

func (f *fakeConn) lastHandle() *PlayableHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.played) == 0 {
		return nil
	}
	return f.played[len(f.played)-1]
}

type fakeVoice struct {
	mu         sync.Mutex
	conn       *fakeConn
	connects   int
	connectErr error
	permErr    error
}

func (f *fakeVoice) CheckPermissions(guildID, channelID snowflake.ID) error {
	return f.permErr
}

func (f *fakeVoice) Connect(ctx context.Context, guildID, channelID snowflake.ID) (AudioConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.conn, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	posts  []string
	guilds []string
}

func (f *fakeNotifier) Notify(ctx context.Context, channelID snowflake.ID, n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, n.Content)
}

func (f *fakeNotifier) NotifyGuild(ctx context.Context, guildID snowflake.ID, n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds = append(f.guilds, n.Content)
}

func (f *fakeNotifier) has(content string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if strings.Contains(p, content) {
			return true
		}
	}
	return false
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type fakeStore struct {
	mu      sync.Mutex
	volumes map[snowflake.ID]int
	history []string
}

func (f *fakeStore) GuildVolume(ctx context.Context, guildID snowflake.ID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[guildID]
	return v, ok, nil
}

func (f *fakeStore) SetGuildVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[guildID] = volume
	return nil
}

func (f *fakeStore) RecordPlay(ctx context.Context, guildID snowflake.ID, contentID, title, uploader string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append([]string{contentID}, f.history...)
	return nil
}

func (f *fakeStore) RecentPlays(ctx context.Context, guildID snowflake.ID, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...), nil
}

type fakeResolver struct {
	mu      sync.Mutex
	entered chan string
	gate    map[string]chan struct{}
	err     map[string]error
	rebinds int
}

func (f *fakeResolver) Resolve(ctx context.Context, query string) (*Track, error) {
	f.mu.Lock()
	gate := f.gate[query]
	err := f.err[query]
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- query
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &ResolutionError{Query: query, Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return &Track{ID: query, Title: "Title " + query, Uploader: "Band", Source: query + ".webm", Cached: !strings.HasPrefix(query, "stream")}, nil
}

func (f *fakeResolver) ResolveByID(ctx context.Context, id string) (*Track, error) {
	return f.Resolve(ctx, id)
}

func (f *fakeResolver) Rebind(ctx context.Context, t *Track) (*Track, error) {
	f.mu.Lock()
	f.rebinds++
	f.mu.Unlock()
	cp := *t
	cp.Source = t.Source + "#fresh"
	return &cp, nil
}

type fakeFinder struct {
	mu      sync.Mutex
	cands   []Candidate
	seeds   []Seed
	exclude []string

	// When gate is set, FindRelated signals entered and blocks until the
	// gate is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeFinder) FindRelated(ctx context.Context, seed Seed, exclude []string, count int) ([]Candidate, error) {
	f.mu.Lock()
	f.seeds = append(f.seeds, seed)
	f.exclude = exclude
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cands, nil
}

func (f *fakeFinder) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	return f.gate
}

type playerFixture struct {
	c        *Controller
	conn     *fakeConn
	voice    *fakeVoice
	resolver *fakeResolver
	notifier *fakeNotifier
	store    *fakeStore
	finder   *fakeFinder
}

func newPlayerFixture(t *testing.T) *playerFixture {
	t.Helper()
	f := &playerFixture{
		conn:     &fakeConn{playErr: map[string]error{}},
		resolver: &fakeResolver{gate: map[string]chan struct{}{}, err: map[string]error{}},
		notifier: &fakeNotifier{},
		store:    &fakeStore{volumes: map[snowflake.ID]int{}},
		finder:   &fakeFinder{},
	}
	f.voice = &fakeVoice{conn: f.conn}
	f.c = NewController(context.Background(), ControllerOptions{
		Voice:          f.voice,
		Resolver:       f.resolver,
		Radio:          f.finder,
		Notifier:       f.notifier,
		Store:          f.store,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultVolume:  50,
		ResolveTimeout: time.Second,
	})
	t.Cleanup(f.c.cancel)
	return f
}

func (f *playerFixture) play(t *testing.T, query string) *PlayResult {
	t.Helper()
	res, err := f.c.Play(context.Background(), PlayRequest{
		GuildID:        testGuild,
		VoiceChannelID: testVoice,
		TextChannelID:  testText,
		UserName:       "tester",
		Query:          query,
	})
	if err != nil {
		t.Fatalf("Play(%q) failed: %v", query, err)
	}
	return res
}

func (f *playerFixture) view(t *testing.T) QueueView {
	t.Helper()
	v, err := f.c.View(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayStartsThenQueues(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)

	first := f.play(t, "a")
	if first.Position != 0 || first.Track.ID != "a" {
		t.Fatalf("first play = %+v, want immediate start", first)
	}
	second := f.play(t, "b")
	if second.Position != 1 {
		t.Fatalf("second play position = %d, want 1", second.Position)
	}

	v := f.view(t)
	if v.State != StatePlaying || v.Current.ID != "a" || len(v.Pending) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if got := f.conn.playedIDs(); len(got) != 1 {
		t.Fatalf("transport played %v, want only a", got)
	}
	if f.voice.connects != 1 {
		t.Fatalf("connects = %d, want 1", f.voice.connects)
	}
	if f.notifier.count() != 0 {
		t.Fatal("the command reply announces the first track; no channel notice expected")
	}
}

func TestCompletionAdvancesQueue(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")

	f.conn.finish(nil)

	v := f.view(t)
	if v.Current == nil || v.Current.ID != "b" || len(v.Pending) != 0 {
		t.Fatalf("view after completion = %+v", v)
	}
	if !f.notifier.has("Title b") {
		t.Fatal("missing now-playing notice for b")
	}
}

func TestQueueExhaustion(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")

	f.conn.finish(nil)

	v := f.view(t)
	if v.State != StateConnectedIdle || v.Current != nil {
		t.Fatalf("view after exhaustion = %+v", v)
	}
	if !f.notifier.has(sys.MsgMusicQueueFinished) {
		t.Fatal("missing queue finished notice")
	}
}

func TestLoopReplaysCurrent(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")
	if on, _ := f.c.ToggleLoop(context.Background(), testGuild); !on {
		t.Fatal("loop should be on")
	}

	f.conn.finish(nil)
	f.view(t)

	if got := f.conn.playedIDs(); len(got) != 2 || got[1] != "a" {
		t.Fatalf("played = %v, want a replayed", got)
	}

	skipped, err := f.c.Skip(context.Background(), testGuild)
	if err != nil || skipped.ID != "a" {
		t.Fatalf("Skip = %v, %v", skipped, err)
	}
	if v := f.view(t); v.Current.ID != "b" {
		t.Fatalf("skip should override loop, current = %s", v.Current.ID)
	}
}

func TestLoopedStreamIsRebound(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "stream1")
	f.c.ToggleLoop(context.Background(), testGuild)

	f.conn.finish(nil)

	waitFor(t, "stream replay", func() bool { return len(f.conn.playedIDs()) == 2 })
	h := f.conn.lastHandle()
	if !strings.HasSuffix(h.Track.Source, "#fresh") {
		t.Fatalf("replayed stream source = %q, want a fresh reference", h.Track.Source)
	}
}

func TestSkipIgnoresLateCompletion(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")
	f.play(t, "c")

	lateEnd := f.conn.currentEnd()
	if _, err := f.c.Skip(context.Background(), testGuild); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	// The transport reports a's natural end after the skip was applied.
	lateEnd(nil)

	v := f.view(t)
	if v.Current == nil || v.Current.ID != "b" {
		t.Fatalf("current = %v, want b", v.Current)
	}
	if len(v.Pending) != 1 || v.Pending[0].ID != "c" {
		t.Fatalf("pending = %v, want [c]", ids(v.Pending))
	}
}

func TestConcurrentSkipAndCompletionDequeueOnce(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")
	f.play(t, "c")
	f.play(t, "d")

	g, _ := f.c.lookup(testGuild)
	hold := make(chan struct{})
	g.post(func() { <-hold })

	end := f.conn.currentEnd()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		end(nil)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.c.Skip(context.Background(), testGuild)
	}()
	time.Sleep(20 * time.Millisecond)
	close(hold)
	wg.Wait()

	v := f.view(t)
	played := f.conn.playedIDs()
	// Either the skip landed first and the completion was stale, or the
	// completion started b and the skip then moved past it.
	switch {
	case v.Current.ID == "b" && len(v.Pending) == 2 && len(played) == 2:
	case v.Current.ID == "c" && len(v.Pending) == 1 && len(played) == 3:
	default:
		t.Fatalf("current=%s pending=%v played=%v", v.Current.ID, ids(v.Pending), played)
	}
}

func TestFailedStartIsAnnouncedAndSkipped(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.conn.playErr["bad"] = errors.New("decoder exploded")
	f.play(t, "a")
	f.play(t, "bad")
	f.play(t, "c")

	f.conn.finish(nil)

	v := f.view(t)
	if v.Current == nil || v.Current.ID != "c" {
		t.Fatalf("current = %v, want c", v.Current)
	}
	if !f.notifier.has("Title bad") {
		t.Fatal("failed track should produce one notice")
	}
}

func TestRadioRefill(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.finder.cands = []Candidate{{ID: "r1", Title: "Related 1"}, {ID: "r2", Title: "Related 2"}}
	f.play(t, "a")
	if on, _ := f.c.ToggleRadio(context.Background(), testGuild); !on {
		t.Fatal("radio should be on")
	}

	f.conn.finish(nil)

	waitFor(t, "radio track to start", func() bool {
		v := f.view(t)
		return v.Current != nil && v.Current.ID == "r1"
	})
	v := f.view(t)
	if len(v.Pending) != 1 || v.Pending[0].ID != "r2" || !v.Radio {
		t.Fatalf("view after refill = %+v", v)
	}

	f.finder.mu.Lock()
	defer f.finder.mu.Unlock()
	if f.finder.seeds[0].ID != "a" || f.finder.seeds[0].Title != "Title a" {
		t.Fatalf("seed = %+v, want last played track", f.finder.seeds[0])
	}
	if len(f.finder.exclude) == 0 || f.finder.exclude[0] != "a" {
		t.Fatalf("exclude = %v, want recent history", f.finder.exclude)
	}
}

func TestRadioEmptyTurnsRadioOff(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.c.ToggleRadio(context.Background(), testGuild)

	f.conn.finish(nil)

	waitFor(t, "radio empty notice", func() bool { return f.notifier.has(sys.MsgMusicRadioEmpty) })
	v := f.view(t)
	if v.Radio || v.State != StateConnectedIdle {
		t.Fatalf("view = %+v, want radio off and connected idle", v)
	}
}

func TestPlayDuringDiscoveryStartsAfterEmptyResult(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	gate := f.finder.block()
	f.play(t, "a")
	f.c.ToggleRadio(context.Background(), testGuild)

	f.conn.finish(nil)
	<-f.finder.entered

	if res := f.play(t, "b"); res.Position != 1 {
		t.Fatalf("play during discovery position = %d, want 1", res.Position)
	}
	close(gate)

	waitFor(t, "queued track to start", func() bool {
		v := f.view(t)
		return v.Current != nil && v.Current.ID == "b" && v.State == StatePlaying
	})
	if !f.notifier.has(sys.MsgMusicRadioEmpty) {
		t.Fatal("empty discovery should still be announced")
	}
	if v := f.view(t); v.Radio || len(v.Pending) != 0 {
		t.Fatalf("view = %+v, want radio off and nothing pending", v)
	}
}

func TestPlayDuringDiscoveryStartsAfterRadioOff(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.finder.cands = []Candidate{{ID: "r1", Title: "Related 1"}}
	gate := f.finder.block()
	f.play(t, "a")
	f.c.ToggleRadio(context.Background(), testGuild)

	f.conn.finish(nil)
	<-f.finder.entered

	f.play(t, "b")
	if on, _ := f.c.ToggleRadio(context.Background(), testGuild); on {
		t.Fatal("radio should be off")
	}
	close(gate)

	waitFor(t, "queued track to start", func() bool {
		v := f.view(t)
		return v.Current != nil && v.Current.ID == "b" && v.State == StatePlaying
	})
	for _, id := range f.conn.playedIDs() {
		if id == "r1" {
			t.Fatal("discovery result applied after radio was turned off")
		}
	}
}

func TestStopAndDisconnectReset(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")
	f.c.ToggleRadio(context.Background(), testGuild)

	if err := f.c.Stop(context.Background(), testGuild); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	v := f.view(t)
	if v.Current != nil || len(v.Pending) != 0 || v.Radio || v.State != StateConnectedIdle {
		t.Fatalf("view after stop = %+v", v)
	}

	if err := f.c.Disconnect(context.Background(), testGuild); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if s := f.c.State(testGuild); s != StateIdle {
		t.Fatalf("state = %s, want idle", s)
	}
	f.conn.mu.Lock()
	closed := f.conn.closed
	f.conn.mu.Unlock()
	if !closed {
		t.Fatal("disconnect must close the voice connection")
	}
	if err := f.c.Disconnect(context.Background(), testGuild); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestStaleResolutionDiscarded(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")

	gate := make(chan struct{})
	f.resolver.mu.Lock()
	f.resolver.gate["slow"] = gate
	f.resolver.mu.Unlock()
	f.resolver.entered = make(chan string, 1)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "slow"})
		errCh <- err
	}()
	<-f.resolver.entered

	if err := f.c.Stop(context.Background(), testGuild); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Play error = %v, want ErrSuperseded", err)
	}
	if v := f.view(t); len(v.Pending) != 0 || v.Current != nil {
		t.Fatalf("stale result leaked into queue: %+v", v)
	}
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.c.opts.ResolveTimeout = 20 * time.Millisecond
	f.resolver.gate["hang"] = make(chan struct{})

	_, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "hang"})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Play error = %v, want TimeoutError", err)
	}
}

func TestVolume(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)

	for _, level := range []int{-1, 101} {
		var valErr *ValidationError
		if err := f.c.SetVolume(context.Background(), testGuild, level); !errors.As(err, &valErr) {
			t.Fatalf("SetVolume(%d) = %v, want ValidationError", level, err)
		}
	}
	if err := f.c.SetVolume(context.Background(), testGuild, 30); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetVolume while idle = %v, want ErrNotConnected", err)
	}

	f.play(t, "a")
	if h := f.conn.lastHandle(); h.Volume() != 50 {
		t.Fatalf("default volume = %d, want 50", h.Volume())
	}
	if err := f.c.SetVolume(context.Background(), testGuild, 30); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if h := f.conn.lastHandle(); h.Volume() != 30 {
		t.Fatalf("live volume = %d, want 30", h.Volume())
	}
	if v, _, _ := f.store.GuildVolume(context.Background(), testGuild); v != 30 {
		t.Fatalf("persisted volume = %d, want 30", v)
	}
	if err := f.c.SetVolume(context.Background(), testGuild, 101); err == nil {
		t.Fatal("out of range volume accepted")
	}
	if v := f.view(t); v.Volume != 30 {
		t.Fatalf("volume changed by rejected call: %d", v.Volume)
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	ctx := context.Background()

	if _, err := f.c.Pause(ctx, testGuild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("Pause with no player = %v", err)
	}
	f.play(t, "a")

	steps := []struct {
		pause bool
		want  bool
	}{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
	}
	for i, s := range steps {
		var changed bool
		var err error
		if s.pause {
			changed, err = f.c.Pause(ctx, testGuild)
		} else {
			changed, err = f.c.Resume(ctx, testGuild)
		}
		if err != nil || changed != s.want {
			t.Fatalf("step %d: changed=%t err=%v, want %t", i, changed, err, s.want)
		}
	}
}

func TestConnectionFailureCreatesNoState(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.voice.connectErr = errors.New("gateway timeout")

	_, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "a"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.ChannelID != testVoice {
		t.Fatalf("Play error = %v, want ConnectionError", err)
	}
	v := f.view(t)
	if v.State != StateIdle || len(v.Pending) != 0 || v.Current != nil {
		t.Fatalf("view after failed connect = %+v", v)
	}
	if _, ok := f.c.lookup(testGuild); ok {
		t.Fatal("failed connect left a guild player registered")
	}

	f.voice.mu.Lock()
	f.voice.connectErr = nil
	f.voice.mu.Unlock()
	res, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "b"})
	if err != nil || res.Position != 0 {
		t.Fatalf("Play after recovery = %+v, %v", res, err)
	}
	if got := f.c.State(testGuild); got != StatePlaying {
		t.Fatalf("State after recovery = %v, want playing", got)
	}
}

func TestConnectionFailureKeepsUserModes(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.voice.connectErr = errors.New("gateway timeout")

	if on, err := f.c.ToggleLoop(context.Background(), testGuild); err != nil || !on {
		t.Fatalf("ToggleLoop = %v, %v", on, err)
	}
	_, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "a"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Play error = %v, want ConnectionError", err)
	}
	if _, ok := f.c.lookup(testGuild); !ok {
		t.Fatal("player holding the loop flag was dropped")
	}
	if v := f.view(t); !v.Loop {
		t.Fatalf("view after failed connect = %+v, want loop kept", v)
	}
}

func TestRetiredPlayerRejectsSends(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)

	g := f.c.player(testGuild)
	if err := g.call(context.Background(), g.retire); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, ok := f.c.lookup(testGuild); ok {
		t.Fatal("retired player still registered")
	}
	if err := g.call(context.Background(), func() {}); !errors.Is(err, errPlayerRetired) {
		t.Fatalf("call on retired player = %v, want errPlayerRetired", err)
	}

	on, err := f.c.ToggleRadio(context.Background(), testGuild)
	if err != nil || !on {
		t.Fatalf("ToggleRadio after retirement = %v, %v", on, err)
	}
	if next, ok := f.c.lookup(testGuild); !ok || next == g {
		t.Fatal("ToggleRadio did not register a fresh player")
	}
}

func TestPermissionCheckedFirst(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.voice.permErr = &PermissionError{Permission: "Connect", ChannelID: testVoice}

	_, err := f.c.Play(context.Background(), PlayRequest{GuildID: testGuild, VoiceChannelID: testVoice, Query: "a"})
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Play error = %v, want PermissionError", err)
	}
	if _, ok := f.c.lookup(testGuild); ok {
		t.Fatal("permission failure must not create guild state")
	}
	if f.voice.connects != 0 {
		t.Fatal("permission failure must not connect")
	}
}

func TestIdleTimeoutDisconnects(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")

	f.c.OnListenersChanged(testGuild, 2)
	if s := f.c.State(testGuild); s != StatePlaying {
		t.Fatalf("state with listeners = %s", s)
	}

	f.c.OnListenersChanged(testGuild, 0)
	v := f.view(t)
	if v.State != StateIdle || v.Current != nil {
		t.Fatalf("view after idle timeout = %+v", v)
	}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.guilds) != 1 || f.notifier.guilds[0] != sys.MsgMusicInactivity {
		t.Fatalf("guild notices = %v", f.notifier.guilds)
	}
}

func TestExternalDisconnectIsSilent(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")

	f.c.OnBotDisconnected(testGuild)
	if v := f.view(t); v.State != StateIdle {
		t.Fatalf("state = %s, want idle", v.State)
	}
	if f.notifier.count() != 0 {
		t.Fatal("external disconnect should not post notices")
	}
	if n := f.c.ActiveSessions(); n != 0 {
		t.Fatalf("active sessions = %d", n)
	}
}

func TestRemoveAt(t *testing.T) {
	t.Parallel()
	f := newPlayerFixture(t)
	f.play(t, "a")
	f.play(t, "b")

	var posErr *InvalidPositionError
	if _, err := f.c.RemoveAt(context.Background(), testGuild, 2); !errors.As(err, &posErr) {
		t.Fatalf("RemoveAt(2) = %v, want InvalidPositionError", err)
	}
	removed, err := f.c.RemoveAt(context.Background(), testGuild, 1)
	if err != nil || removed.ID != "b" {
		t.Fatalf("RemoveAt(1) = %v, %v", removed, err)
	}
}
