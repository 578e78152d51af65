package proc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/melody/sys"
)

// MusicSystem bundles the music components the command handlers use.
type MusicSystem struct {
	Controller *Controller
	Resolver   *Resolver
	Cache      *CacheStore
	Store      *sys.MusicStore
	Voice      *VoiceLink

	cfg atomic.Pointer[sys.Config]
}

var current atomic.Pointer[MusicSystem]

// GetMusicSystem returns the system installed by NewMusicSystem, or nil
// before startup.
func GetMusicSystem() *MusicSystem {
	return current.Load()
}

// NewMusicSystem builds and installs the music stack for client.
func NewMusicSystem(ctx context.Context, client *bot.Client, cfg *sys.Config, store *sys.MusicStore) (*MusicSystem, error) {
	cache := NewCacheStore(cfg.AudioCacheDir, nil)
	if err := cache.EnsureRoot(); err != nil {
		return nil, err
	}

	ex := NewYtdlpExtractor(cfg.YoutubeProxy)
	resolver := NewResolver(ex, cache, cfg.StreamMode, nil)
	radio := NewRadioDiscovery(NewDefaultSearcher(ex), ex, cfg.RadioSimilarity, cfg.RadioSearchRPS, nil)
	link := NewVoiceLink(client, nil)

	m := &MusicSystem{
		Resolver: resolver,
		Cache:    cache,
		Store:    store,
		Voice:    link,
	}
	m.cfg.Store(cfg)
	m.Controller = NewController(ctx, ControllerOptions{
		Voice:          link,
		Resolver:       resolver,
		Radio:          radio,
		Notifier:       NewDiscordNotifier(client, nil),
		Store:          store,
		Pins:           cache,
		DefaultVolume:  cfg.DefaultVolume,
		ResolveTimeout: cfg.ResolveTimeout,
		RadioBatch:     cfg.RadioBatch,
	})

	sys.RegisterVoiceStateUpdateHandler(VoiceStateListener(m.Controller))
	m.registerDaemons(client)

	current.Store(m)
	return m, nil
}

// Reload applies a changed configuration. Only the eviction thresholds
// take effect without a restart.
func (m *MusicSystem) Reload(cfg *sys.Config) {
	if err := cfg.Validate(); err != nil {
		sys.LogWarn(sys.MsgConfigReloadFail, err)
		return
	}
	m.cfg.Store(cfg)
	sys.LogCache(sys.MsgCacheThresholds, cfg.CacheMaxAge, sys.FormatBytes(cfg.CacheMaxBytes), cfg.CacheEvictInterval)
}

func (m *MusicSystem) thresholds() (time.Duration, int64) {
	cfg := m.cfg.Load()
	return cfg.CacheMaxAge, cfg.CacheMaxBytes
}

func (m *MusicSystem) registerDaemons(client *bot.Client) {
	sys.RegisterDaemon(sys.LogCache, func(ctx context.Context) (bool, func(), func()) {
		cfg := m.cfg.Load()
		sys.LogCache(sys.MsgCacheThresholds, cfg.CacheMaxAge, sys.FormatBytes(cfg.CacheMaxBytes), cfg.CacheEvictInterval)
		return true, func() { m.Cache.Run(ctx, cfg.CacheEvictInterval, m.thresholds) }, nil
	})

	NewStatusRotator(client, StatusSources{
		Sessions:  m.Controller.ActiveSessions,
		CacheSize: m.Cache.Size,
		PlayCount: m.Store.PlayCount,
	}).Register()
}

// Shutdown disconnects every guild player.
func (m *MusicSystem) Shutdown(ctx context.Context) {
	m.Controller.Shutdown(ctx)
}
