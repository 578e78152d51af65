package proc

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/melody/sys"
)

const configKeyStatus = "status_visible"

var StartTime = time.Now().UTC()

// StatusSources supplies the figures the presence rotator cycles through.
// Any field may be nil.
type StatusSources struct {
	Sessions  func() int
	CacheSize func() (int64, int, error)
	PlayCount func(ctx context.Context) (int, error)
}

// StatusRotator rotates the bot presence between music and runtime stats.
type StatusRotator struct {
	client     *bot.Client
	generators []func(context.Context) string
	last       string
}

func NewStatusRotator(client *bot.Client, src StatusSources) *StatusRotator {
	r := &StatusRotator{client: client}
	r.generators = []func(context.Context) string{
		func(context.Context) string { return sessionsStatus(src.Sessions) },
		func(context.Context) string { return cacheStatus(src.CacheSize) },
		func(ctx context.Context) string { return playsStatus(ctx, src.PlayCount) },
		func(context.Context) string { return uptimeStatus(time.Since(StartTime)) },
		r.latencyStatus,
	}
	return r
}

// Register installs the rotator as a daemon that starts once the gateway
// is ready.
func (r *StatusRotator) Register() {
	sys.RegisterDaemon(sys.LogStatusRotator, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { r.Run(ctx) }, nil
	})
}

func rotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

func (r *StatusRotator) Run(ctx context.Context) {
	for {
		next := rotationInterval()
		r.update(ctx, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// pick chooses a status other than the last shown one when possible.
func (r *StatusRotator) pick(ctx context.Context) string {
	var available []string
	for _, gen := range r.generators {
		if text := gen(ctx); text != "" {
			available = append(available, text)
		}
	}
	if len(available) == 0 {
		return uptimeStatus(time.Since(StartTime))
	}

	var choices []string
	for _, s := range available {
		if s != r.last {
			choices = append(choices, s)
		}
	}
	selected := available[0]
	if len(choices) > 0 {
		selected = choices[rand.Intn(len(choices))]
	}
	r.last = selected
	return selected
}

func (r *StatusRotator) update(ctx context.Context, next time.Duration) {
	if visible, err := sys.GetBotConfig(ctx, configKeyStatus); err == nil && visible == "false" {
		_ = r.client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	status := r.pick(ctx)
	activity := gateway.WithListeningActivity(status)
	if sys.GlobalConfig != nil && sys.GlobalConfig.StreamingURL != "" {
		activity = gateway.WithStreamingActivity(status, sys.GlobalConfig.StreamingURL)
	}
	if err := r.client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline), activity); err != nil {
		sys.LogStatusRotator(sys.MsgStatusUpdateFail, err)
		return
	}
	sys.LogStatusRotator(sys.MsgStatusRotated, status, next)
}

func sessionsStatus(sessions func() int) string {
	if sessions == nil {
		return ""
	}
	n := sessions()
	switch n {
	case 0:
		return ""
	case 1:
		return "music in 1 server"
	default:
		return fmt.Sprintf("music in %d servers", n)
	}
}

func cacheStatus(size func() (int64, int, error)) string {
	if size == nil {
		return ""
	}
	bytes, files, err := size()
	if err != nil || files == 0 {
		return ""
	}
	return fmt.Sprintf("Cache: %d tracks (%s)", files, sys.FormatBytes(bytes))
}

func playsStatus(ctx context.Context, count func(context.Context) (int, error)) string {
	if count == nil {
		return ""
	}
	n, err := count(ctx)
	if err != nil || n == 0 {
		return ""
	}
	return fmt.Sprintf("Played: %d tracks", n)
}

func uptimeStatus(d time.Duration) string {
	return fmt.Sprintf("Uptime: %dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func (r *StatusRotator) latencyStatus(context.Context) string {
	if r.client == nil || r.client.Gateway == nil {
		return ""
	}
	ping := r.client.Gateway.Latency()
	if ping == 0 {
		return ""
	}
	return fmt.Sprintf("Ping: %dms", ping.Milliseconds())
}
