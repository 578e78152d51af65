package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/melody/sys"
	"golang.org/x/sync/errgroup"
)

// State is a guild player's position in the playback state machine.
type State int32

const (
	StateIdle State = iota
	StateConnectedIdle
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateConnectedIdle:
		return "connected"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Active reports whether the transport is playing or paused.
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused
}

// AudioConn is one guild's live voice transport.
type AudioConn interface {
	// Play starts h after stopping anything already playing. onEnd fires
	// exactly once per successful Play, whether the track ran out, failed
	// or was stopped.
	Play(h *PlayableHandle, onEnd func(error)) error
	Pause()
	Resume()
	Stop()
	Close(ctx context.Context)
}

// VoiceConnector opens voice transports and checks channel permissions.
type VoiceConnector interface {
	CheckPermissions(guildID, channelID snowflake.ID) error
	Connect(ctx context.Context, guildID, channelID snowflake.ID) (AudioConn, error)
}

// Notice is a short message posted to a guild's text channel.
type Notice struct {
	Content   string
	Thumbnail string
}

type Notifier interface {
	Notify(ctx context.Context, channelID snowflake.ID, n Notice)
	// NotifyGuild posts to the first text channel the bot can send to.
	NotifyGuild(ctx context.Context, guildID snowflake.ID, n Notice)
}

// SettingsStore persists per-guild volume and play history.
type SettingsStore interface {
	GuildVolume(ctx context.Context, guildID snowflake.ID) (int, bool, error)
	SetGuildVolume(ctx context.Context, guildID snowflake.ID, volume int) error
	RecordPlay(ctx context.Context, guildID snowflake.ID, contentID, title, uploader string) error
	RecentPlays(ctx context.Context, guildID snowflake.ID, limit int) ([]string, error)
}

type Pinner interface {
	Pin(id string) func()
}

type TrackResolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
	ResolveByID(ctx context.Context, id string) (*Track, error)
	Rebind(ctx context.Context, t *Track) (*Track, error)
}

type RelatedFinder interface {
	FindRelated(ctx context.Context, seed Seed, exclude []string, count int) ([]Candidate, error)
}

// ControllerOptions wires a Controller to its collaborators. Store, Pins and
// Radio may be nil.
type ControllerOptions struct {
	Voice    VoiceConnector
	Resolver TrackResolver
	Radio    RelatedFinder
	Notifier Notifier
	Store    SettingsStore
	Pins     Pinner
	Logger   *slog.Logger

	DefaultVolume  int
	ResolveTimeout time.Duration
	RadioBatch     int
	HistoryExclude int
}

var errControllerClosed = errors.New("music controller shut down")

var errPlayerRetired = errors.New("guild player retired")

// Controller owns every guild's player. Each player runs a single goroutine
// that applies all queue and transport transitions for its guild in order.
type Controller struct {
	opts   ControllerOptions
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	players map[snowflake.ID]*guildPlayer
}

func NewController(ctx context.Context, opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = sys.ComponentLogger("music")
	}
	if opts.DefaultVolume < 0 || opts.DefaultVolume > 100 {
		opts.DefaultVolume = 50
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 2 * time.Minute
	}
	if opts.RadioBatch <= 0 {
		opts.RadioBatch = MaxRadioTracksPerCycle
	}
	if opts.HistoryExclude <= 0 {
		opts.HistoryExclude = 50
	}
	if opts.Pins == nil {
		opts.Pins = noPins{}
	}

	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		opts:    opts,
		logger:  opts.Logger,
		ctx:     cctx,
		cancel:  cancel,
		players: make(map[snowflake.ID]*guildPlayer),
	}
}

type noPins struct{}

func (noPins) Pin(string) func() { return func() {} }

// PlayRequest carries a play command from the command layer.
type PlayRequest struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID
	UserID         snowflake.ID
	UserName       string
	Query          string
}

// PlayResult describes what a play request did. Position is zero when the
// track started right away, otherwise its 1-based queue position.
type PlayResult struct {
	Track    *Track
	Position int
}

// QueueView is a consistent snapshot of a guild player for rendering.
type QueueView struct {
	State   State
	Current *Track
	Pending []*Track
	Loop    bool
	Radio   bool
	Volume  int
}

type guildPlayer struct {
	c       *Controller
	guildID snowflake.ID
	ops     chan func()

	// Owned by the loop goroutine.
	queue        *Queue
	state        State
	conn         AudioConn
	voiceChannel snowflake.ID
	textChannel  snowflake.ID
	handle       *PlayableHandle
	release      func()
	lastStarted  *Track
	volume       int
	busy         bool

	// epoch moves on every stop so in-flight resolutions and background
	// work can tell they are stale. seq moves on every transport change so
	// late completion events are ignored.
	epoch uint64
	seq   uint64

	published atomic.Int32

	// life guards retired and waiting against concurrent sends.
	life    sync.Mutex
	retired bool
	waiting int
}

func (c *Controller) player(guildID snowflake.ID) *guildPlayer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.players[guildID]; ok {
		return g
	}
	g := &guildPlayer{
		c:       c,
		guildID: guildID,
		ops:     make(chan func(), 64),
		queue:   NewQueue(),
		volume:  c.opts.DefaultVolume,
	}
	c.players[guildID] = g
	go g.run()
	return g
}

func (c *Controller) lookup(guildID snowflake.ID) (*guildPlayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.players[guildID]
	return g, ok
}

func (g *guildPlayer) run() {
	for {
		select {
		case <-g.c.ctx.Done():
			return
		case op := <-g.ops:
			g.exec(op)
			if g.retired {
				return
			}
		}
	}
}

func (g *guildPlayer) exec(op func()) {
	defer func() {
		if r := recover(); r != nil {
			g.c.logger.Error(fmt.Sprintf(sys.MsgMusicLogPanic, g.guildID, r))
		}
	}()
	op()
}

func (g *guildPlayer) post(op func()) bool {
	return g.send(op) == nil
}

func (g *guildPlayer) send(op func()) error {
	g.life.Lock()
	if g.retired {
		g.life.Unlock()
		return errPlayerRetired
	}
	select {
	case g.ops <- op:
		g.life.Unlock()
		return nil
	default:
	}
	// Full buffer: wait without holding life so the loop never blocks on it.
	g.waiting++
	g.life.Unlock()
	defer func() {
		g.life.Lock()
		g.waiting--
		g.life.Unlock()
	}()
	select {
	case g.ops <- op:
		return nil
	case <-g.c.ctx.Done():
		return errControllerClosed
	}
}

// retire unregisters a player that never connected, so a failed first
// connect leaves no guild state behind. It backs off when other work is
// queued or the player holds anything a user set.
func (g *guildPlayer) retire() {
	if g.epoch != 0 || g.seq != 0 || g.conn != nil || g.busy || g.queue.Size() != 0 || g.queue.Loop() || g.queue.Radio() {
		return
	}
	g.life.Lock()
	defer g.life.Unlock()
	if len(g.ops) != 0 || g.waiting != 0 {
		return
	}
	g.c.mu.Lock()
	if g.c.players[g.guildID] == g {
		delete(g.c.players, g.guildID)
	}
	g.c.mu.Unlock()
	g.retired = true
}

// withPlayer runs op on the guild's loop, registering a player first when
// create is set. It reports false when the guild has no player.
func (c *Controller) withPlayer(ctx context.Context, guildID snowflake.ID, create bool, op func(g *guildPlayer)) (bool, error) {
	for {
		g, ok := c.lookup(guildID)
		if !ok {
			if !create {
				return false, nil
			}
			g = c.player(guildID)
		}
		err := g.call(ctx, func() { op(g) })
		if errors.Is(err, errPlayerRetired) {
			continue
		}
		return true, err
	}
}

// call runs op on the loop and waits for it to finish.
func (g *guildPlayer) call(ctx context.Context, op func()) error {
	done := make(chan struct{})
	if err := g.send(func() {
		defer close(done)
		op()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.c.ctx.Done():
		return errControllerClosed
	}
}

func (g *guildPlayer) setState(s State) {
	g.state = s
	g.published.Store(int32(s))
}

func (g *guildPlayer) notify(n Notice) {
	if g.c.opts.Notifier == nil || g.textChannel == 0 {
		return
	}
	g.c.opts.Notifier.Notify(g.c.ctx, g.textChannel, n)
}

func nowPlayingNotice(t *Track) Notice {
	return Notice{
		Content:   fmt.Sprintf(sys.MsgMusicNowPlaying, t.DisplayTitle(), t.Link(), t.DisplayUploader(), sys.FormatTrackDuration(t.Duration)),
		Thumbnail: t.Thumbnail,
	}
}

func (c *Controller) loadVolume(guildID snowflake.ID) int {
	if c.opts.Store == nil {
		return c.opts.DefaultVolume
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	v, ok, err := c.opts.Store.GuildVolume(ctx, guildID)
	if err != nil {
		c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogStoreFail, guildID, err))
	}
	if !ok || err != nil {
		return c.opts.DefaultVolume
	}
	return v
}

func (c *Controller) recordPlay(guildID snowflake.ID, t *Track) {
	if c.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	if err := c.opts.Store.RecordPlay(ctx, guildID, t.ID, t.Title, t.Uploader); err != nil {
		c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogStoreFail, guildID, err))
	}
}

// --- Loop-side transitions ---

func (g *guildPlayer) ensureConnected(channelID snowflake.ID) error {
	if g.conn != nil {
		return nil
	}
	conn, err := g.c.opts.Voice.Connect(g.c.ctx, g.guildID, channelID)
	if err != nil {
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{ChannelID: channelID, Err: err}
		}
		return err
	}
	g.conn = conn
	g.voiceChannel = channelID
	g.volume = g.c.loadVolume(g.guildID)
	g.setState(StateConnectedIdle)
	return nil
}

func (g *guildPlayer) dropHandle() {
	if g.release != nil {
		g.release()
		g.release = nil
	}
	g.handle = nil
}

// start hands t to the transport. On failure nothing about the player
// changes except the play token.
func (g *guildPlayer) start(t *Track, announce bool) error {
	release := func() {}
	if t.Cached {
		release = g.c.opts.Pins.Pin(t.ID)
	}
	h := NewPlayableHandle(t, g.volume)

	g.seq++
	seq := g.seq
	err := g.conn.Play(h, func(err error) {
		g.post(func() { g.finished(seq, err) })
	})
	if err != nil {
		release()
		g.c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogPlayFail, t.DisplayTitle(), g.guildID, err))
		return err
	}

	g.dropHandle()
	g.handle, g.release, g.lastStarted = h, release, t
	g.queue.SetSeed(Seed{ID: t.ID, Title: t.Title, Uploader: t.Uploader})
	g.setState(StatePlaying)
	g.c.logger.Info(fmt.Sprintf(sys.MsgMusicLogPlaying, g.guildID, t.DisplayTitle()))
	g.c.recordPlay(g.guildID, t)
	if announce {
		g.notify(nowPlayingNotice(t))
	}
	return nil
}

func (g *guildPlayer) finished(seq uint64, err error) {
	if seq != g.seq || !g.state.Active() {
		return
	}
	cur := g.queue.Current()
	if err != nil && cur != nil {
		g.c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogPlayFail, cur.DisplayTitle(), g.guildID, err))
	} else if cur != nil {
		g.c.logger.Info(fmt.Sprintf(sys.MsgMusicLogFinished, g.guildID, cur.DisplayTitle()))
	}
	g.dropHandle()
	g.advance(false)
}

// advance moves to the next playable track. skip ignores the loop flag.
// Tracks that fail to start are announced once and dropped.
func (g *guildPlayer) advance(skip bool) {
	for {
		var next *Track
		if skip {
			next = g.queue.Skip()
		} else {
			next = g.queue.Advance()
		}
		if next == nil {
			g.exhausted()
			return
		}

		if next == g.lastStarted && next.IsStream() {
			g.replayStream(next)
			return
		}

		if err := g.start(next, true); err != nil {
			g.notify(Notice{Content: fmt.Sprintf(sys.MsgMusicTrackFailed, next.DisplayTitle())})
			g.queue.DropCurrent()
			skip = false
			continue
		}
		return
	}
}

func (g *guildPlayer) exhausted() {
	g.dropHandle()
	g.setState(StateConnectedIdle)
	if !g.queue.Radio() {
		g.c.logger.Info(fmt.Sprintf(sys.MsgMusicLogQueueDone, g.guildID))
		g.notify(Notice{Content: sys.MsgMusicQueueFinished})
		return
	}
	g.discover()
}

// background runs work off the loop and applies its result on the loop,
// unless the guild was stopped in the meantime.
func (g *guildPlayer) background(work func(ctx context.Context) func()) {
	epoch := g.epoch
	g.busy = true
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.c.logger.Error(fmt.Sprintf(sys.MsgMusicLogPanic, g.guildID, r))
				g.post(func() {
					if g.epoch == epoch {
						g.busy = false
						g.startPending()
					}
				})
			}
		}()
		apply := work(g.c.ctx)
		g.post(func() {
			if g.epoch != epoch {
				g.c.logger.Info(fmt.Sprintf(sys.MsgMusicLogStale, g.guildID, epoch, g.epoch))
				return
			}
			g.busy = false
			apply()
			g.startPending()
		})
	}()
}

// startPending starts the queue when tracks were added while background
// work held the transport and that work ended without starting anything.
func (g *guildPlayer) startPending() {
	if g.conn == nil || g.busy || g.state.Active() || g.queue.Size() == 0 {
		return
	}
	g.advance(true)
}

// replayStream fetches a fresh stream reference for a looped track, since a
// stream can only be read once.
func (g *guildPlayer) replayStream(t *Track) {
	g.setState(StateConnectedIdle)
	g.background(func(ctx context.Context) func() {
		rctx, cancel := context.WithTimeout(ctx, g.c.opts.ResolveTimeout)
		defer cancel()
		fresh, err := g.c.opts.Resolver.Rebind(rctx, t)
		return func() {
			if g.conn == nil {
				return
			}
			if err == nil {
				g.queue.ReplaceCurrent(fresh)
				if err = g.start(fresh, true); err == nil {
					return
				}
			}
			g.notify(Notice{Content: fmt.Sprintf(sys.MsgMusicTrackFailed, t.DisplayTitle())})
			g.queue.DropCurrent()
			g.advance(false)
		}
	})
}

// discover refills an exhausted queue in radio mode.
func (g *guildPlayer) discover() {
	seed := g.queue.RadioSeed()
	g.queue.SetSeed(seed)
	g.background(func(ctx context.Context) func() {
		tracks := g.c.discover(ctx, g.guildID, seed)
		return func() {
			if !g.queue.Radio() || g.conn == nil {
				return
			}
			if len(tracks) == 0 {
				g.queue.SetRadio(false)
				g.notify(Notice{Content: sys.MsgMusicRadioEmpty})
				return
			}
			for _, t := range tracks {
				g.queue.Enqueue(t)
			}
			g.notify(Notice{Content: fmt.Sprintf(sys.MsgMusicRadioAdded, len(tracks))})
			if !g.state.Active() {
				g.advance(true)
			}
		}
	})
}

func (c *Controller) discover(ctx context.Context, guildID snowflake.ID, seed Seed) []*Track {
	if c.opts.Radio == nil || seed.IsZero() {
		return nil
	}

	var exclude []string
	if c.opts.Store != nil {
		recent, err := c.opts.Store.RecentPlays(ctx, guildID, c.opts.HistoryExclude)
		if err != nil {
			c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogStoreFail, guildID, err))
		}
		exclude = recent
	}

	cands, err := c.opts.Radio.FindRelated(ctx, seed, exclude, c.opts.RadioBatch)
	if err != nil {
		c.logger.Warn(fmt.Sprintf(sys.MsgRadioSearchFail, seed.Title, err))
		return nil
	}

	slots := make([]*Track, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxRadioTracksPerCycle)
	for i, cand := range cands {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, c.opts.ResolveTimeout)
			defer cancel()
			t, err := c.opts.Resolver.ResolveByID(rctx, cand.ID)
			if err != nil {
				c.logger.Warn(fmt.Sprintf(sys.MsgRadioResolveSkip, cand.ID, err))
				return nil
			}
			slots[i] = t
			return nil
		})
	}
	_ = g.Wait()

	var tracks []*Track
	for _, t := range slots {
		if t != nil {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// halt is the stop transition: the queue is reset and any in-flight work is
// invalidated. The connection, if any, stays open.
func (g *guildPlayer) halt() {
	g.epoch++
	g.seq++
	g.busy = false
	if g.conn != nil && g.handle != nil {
		g.conn.Stop()
	}
	g.dropHandle()
	g.lastStarted = nil
	g.queue.Clear()
	if g.conn != nil {
		g.setState(StateConnectedIdle)
	} else {
		g.setState(StateIdle)
	}
}

func (g *guildPlayer) teardown() {
	g.halt()
	if g.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		g.conn.Close(ctx)
		cancel()
	}
	g.conn = nil
	g.voiceChannel = 0
	g.setState(StateIdle)
}

// --- Public API ---

// Play resolves a query and either starts it or appends it to the queue.
// Resolution runs outside the guild loop; if the guild is stopped before
// it completes the result is discarded with ErrSuperseded.
func (c *Controller) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if err := c.opts.Voice.CheckPermissions(req.GuildID, req.VoiceChannelID); err != nil {
		return nil, err
	}

	var epoch uint64
	if _, err := c.withPlayer(ctx, req.GuildID, false, func(g *guildPlayer) { epoch = g.epoch }); err != nil {
		return nil, err
	}

	reqID := uuid.NewString()[:8]
	c.logger.Info(fmt.Sprintf(sys.MsgMusicLogRequest, reqID, req.UserName, req.UserID, query))

	rctx, cancel := context.WithTimeout(ctx, c.opts.ResolveTimeout)
	t, err := c.opts.Resolver.Resolve(rctx, query)
	timedOut := errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogResolveFail, reqID, query, err))
		if timedOut {
			return nil, &TimeoutError{Op: "resolve", After: c.opts.ResolveTimeout}
		}
		return nil, err
	}
	c.logger.Info(fmt.Sprintf(sys.MsgMusicLogResolved, reqID, query, t.ID, t.Cached))

	var res *PlayResult
	var opErr error
	if _, err := c.withPlayer(ctx, req.GuildID, true, func(g *guildPlayer) {
		res, opErr = g.enqueue(epoch, req, t)
		var connErr *ConnectionError
		if errors.As(opErr, &connErr) {
			g.retire()
		}
	}); err != nil {
		return nil, err
	}
	return res, opErr
}

func (g *guildPlayer) enqueue(epoch uint64, req PlayRequest, t *Track) (*PlayResult, error) {
	if epoch != g.epoch {
		g.c.logger.Info(fmt.Sprintf(sys.MsgMusicLogStale, g.guildID, epoch, g.epoch))
		return nil, ErrSuperseded
	}
	if err := g.ensureConnected(req.VoiceChannelID); err != nil {
		return nil, err
	}
	if req.TextChannelID != 0 {
		g.textChannel = req.TextChannelID
	}

	pos := g.queue.Enqueue(t)
	if g.state.Active() || g.busy {
		return &PlayResult{Track: t, Position: pos}, nil
	}

	next := g.queue.Skip()
	if err := g.start(next, false); err != nil {
		g.queue.DropCurrent()
		return nil, err
	}
	return &PlayResult{Track: next}, nil
}

// Skip stops the current track and starts the next one, even when loop is
// on. The stopped track's completion event is ignored, so the queue only
// advances once.
func (c *Controller) Skip(ctx context.Context, guildID snowflake.ID) (*Track, error) {
	var skipped *Track
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		if !g.state.Active() {
			opErr = ErrNothingPlaying
			return
		}
		skipped = g.queue.Current()
		g.seq++
		g.conn.Stop()
		g.dropHandle()
		g.advance(true)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNothingPlaying
	}
	return skipped, opErr
}

// Pause reports false when already paused.
func (c *Controller) Pause(ctx context.Context, guildID snowflake.ID) (bool, error) {
	return c.setPaused(ctx, guildID, true)
}

// Resume reports false when not paused.
func (c *Controller) Resume(ctx context.Context, guildID snowflake.ID) (bool, error) {
	return c.setPaused(ctx, guildID, false)
}

func (c *Controller) setPaused(ctx context.Context, guildID snowflake.ID, pause bool) (bool, error) {
	var changed bool
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		switch {
		case !g.state.Active():
			opErr = ErrNothingPlaying
		case pause && g.state == StatePlaying:
			g.conn.Pause()
			g.setState(StatePaused)
			changed = true
		case !pause && g.state == StatePaused:
			g.conn.Resume()
			g.setState(StatePlaying)
			changed = true
		}
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNothingPlaying
	}
	return changed, opErr
}

// Stop clears the queue and halts audio but keeps the voice connection.
func (c *Controller) Stop(ctx context.Context, guildID snowflake.ID) error {
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		if g.conn == nil {
			opErr = ErrNotConnected
			return
		}
		g.halt()
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConnected
	}
	return opErr
}

// Disconnect stops playback and leaves the voice channel.
func (c *Controller) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		if g.conn == nil {
			opErr = ErrNotConnected
			return
		}
		g.teardown()
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConnected
	}
	return opErr
}

// SetVolume applies a 0-100 volume to the live track and persists it.
func (c *Controller) SetVolume(ctx context.Context, guildID snowflake.ID, level int) error {
	if level < 0 || level > 100 {
		return &ValidationError{Field: "volume", Reason: "must be between 0 and 100"}
	}
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		if g.conn == nil {
			opErr = ErrNotConnected
			return
		}
		g.volume = level
		if g.handle != nil {
			g.handle.SetVolume(level)
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConnected
	}
	if opErr != nil {
		return opErr
	}

	if c.opts.Store != nil {
		if err := c.opts.Store.SetGuildVolume(ctx, guildID, level); err != nil {
			c.logger.Warn(fmt.Sprintf(sys.MsgMusicLogStoreFail, guildID, err))
		}
	}
	return nil
}

// ToggleRadio flips radio mode and returns the new value. Turning it on
// while connected with nothing queued starts discovery right away.
func (c *Controller) ToggleRadio(ctx context.Context, guildID snowflake.ID) (bool, error) {
	var on bool
	if _, err := c.withPlayer(ctx, guildID, true, func(g *guildPlayer) {
		on = !g.queue.Radio()
		g.queue.SetRadio(on)
		if !on {
			return
		}
		if cur := g.queue.Current(); cur != nil {
			g.queue.SetSeed(Seed{ID: cur.ID, Title: cur.Title, Uploader: cur.Uploader})
		}
		if g.conn != nil && !g.state.Active() && !g.busy && g.queue.Size() == 0 && !g.queue.RadioSeed().IsZero() {
			g.discover()
		}
	}); err != nil {
		return false, err
	}
	return on, nil
}

// ToggleLoop flips the loop flag and returns the new value.
func (c *Controller) ToggleLoop(ctx context.Context, guildID snowflake.ID) (bool, error) {
	var on bool
	if _, err := c.withPlayer(ctx, guildID, true, func(g *guildPlayer) {
		on = !g.queue.Loop()
		g.queue.SetLoop(on)
	}); err != nil {
		return false, err
	}
	return on, nil
}

// RemoveAt removes a pending track by its 1-based position.
func (c *Controller) RemoveAt(ctx context.Context, guildID snowflake.ID, position int) (*Track, error) {
	var removed *Track
	var opErr error
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		removed, opErr = g.queue.RemoveAt(position)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InvalidPositionError{Position: position}
	}
	return removed, opErr
}

// View returns a snapshot of the guild's player.
func (c *Controller) View(ctx context.Context, guildID snowflake.ID) (QueueView, error) {
	var v QueueView
	ok, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) {
		v = QueueView{
			State:   g.state,
			Pending: g.queue.Snapshot(),
			Loop:    g.queue.Loop(),
			Radio:   g.queue.Radio(),
			Volume:  g.volume,
		}
		if g.state.Active() {
			v.Current = g.queue.Current()
		}
	})
	if err != nil {
		return QueueView{}, err
	}
	if !ok {
		return QueueView{State: StateIdle, Volume: c.opts.DefaultVolume}, nil
	}
	return v, nil
}

// CurrentTrack is nil unless a track is playing or paused.
func (c *Controller) CurrentTrack(ctx context.Context, guildID snowflake.ID) (*Track, error) {
	v, err := c.View(ctx, guildID)
	return v.Current, err
}

func (c *Controller) QueueSnapshot(ctx context.Context, guildID snowflake.ID) ([]*Track, error) {
	v, err := c.View(ctx, guildID)
	return v.Pending, err
}

func (c *Controller) IsRadioMode(ctx context.Context, guildID snowflake.ID) (bool, error) {
	v, err := c.View(ctx, guildID)
	return v.Radio, err
}

// State reads the last published state without queueing behind the loop.
func (c *Controller) State(guildID snowflake.ID) State {
	g, ok := c.lookup(guildID)
	if !ok {
		return StateIdle
	}
	return State(g.published.Load())
}

// ActiveSessions counts guilds with a live voice connection.
func (c *Controller) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, g := range c.players {
		if State(g.published.Load()) != StateIdle {
			n++
		}
	}
	return n
}

// VoiceChannel returns the channel the guild's player is connected to.
func (c *Controller) VoiceChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	var id snowflake.ID
	_, err := c.withPlayer(ctx, guildID, false, func(g *guildPlayer) { id = g.voiceChannel })
	return id, err
}

// OnListenersChanged tears the guild down when no listeners are left and
// posts an inactivity notice.
func (c *Controller) OnListenersChanged(guildID snowflake.ID, listeners int) {
	if listeners > 0 {
		return
	}
	g, ok := c.lookup(guildID)
	if !ok {
		return
	}
	g.post(func() {
		if g.conn == nil {
			return
		}
		c.logger.Info(fmt.Sprintf(sys.MsgMusicLogIdle, guildID))
		g.teardown()
		if c.opts.Notifier != nil {
			c.opts.Notifier.NotifyGuild(c.ctx, guildID, Notice{Content: sys.MsgMusicInactivity})
		}
	})
}

// OnBotDisconnected handles the bot being removed from voice by someone
// else. The player resets silently.
func (c *Controller) OnBotDisconnected(guildID snowflake.ID) {
	g, ok := c.lookup(guildID)
	if !ok {
		return
	}
	g.post(func() {
		if g.conn == nil {
			return
		}
		c.logger.Info(fmt.Sprintf(sys.MsgMusicLogExternalDrop, guildID))
		g.teardown()
	})
}

// Shutdown disconnects every guild and stops all player loops.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	players := make([]*guildPlayer, 0, len(c.players))
	for _, g := range c.players {
		players = append(players, g)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, g := range players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.call(ctx, g.teardown)
		}()
	}
	wg.Wait()
	c.cancel()
}
