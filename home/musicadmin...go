package home

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

func init() {
	managePerm := discord.PermissionManageGuild

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "musicadmin",
		Description:              "Music maintenance (Manage Server)",
		DefaultMemberPermissions: omit.New(&managePerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clearcache",
				Description: "Delete every cached audio file that is not playing",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show music sessions, cache usage and play history",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "ephemeral",
						Description: "Whether the message should be ephemeral (default: true)",
						Required:    false,
					},
				},
			},
		},
	}, handleMusicAdmin)
}

func handleMusicAdmin(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}
	m := proc.GetMusicSystem()
	if m == nil {
		_ = sys.RespondInteractionV2(event.Client(), event.ApplicationCommandInteraction, sys.NewNoticeContainer(fmt.Sprintf(sys.MsgMusicErrGeneric, "music is not ready yet")), true)
		return
	}

	switch *data.SubCommandName {
	case "clearcache":
		handleMusicClearCache(event, m)
	case "stats":
		ephemeral := true
		if eph, ok := data.OptBool("ephemeral"); ok {
			ephemeral = eph
		}
		handleMusicStats(event, m, ephemeral)
	}
}

func handleMusicClearCache(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	_ = event.DeferCreateMessage(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	report, err := m.Cache.ClearAll(ctx)

	var content string
	switch {
	case err != nil:
		content = fmt.Sprintf(sys.MsgMusicCacheClearFail, err)
	case report.Pinned > 0:
		content = fmt.Sprintf(sys.MsgMusicCacheClearedPin, report.Removed, sys.FormatBytes(report.Freed), report.Pinned)
	default:
		content = fmt.Sprintf(sys.MsgMusicCacheCleared, report.Removed, sys.FormatBytes(report.Freed))
	}
	if err := sys.EditInteractionV2(event.Client(), event.ApplicationCommandInteraction, sys.NewNoticeContainer(content)); err != nil {
		sys.LogCache(sys.MsgMusicLogNotifyFail, *event.GuildID(), err)
	}
}

// musicStats is a point-in-time snapshot for the stats panel.
type musicStats struct {
	Sessions   int
	CacheFiles int
	CacheBytes int64
	Plays      int
	Uptime     time.Duration
	Gateway    time.Duration
	HeapBytes  uint64
	Recent     []string
}

func collectMusicStats(ctx context.Context, event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) musicStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := musicStats{
		Sessions:  m.Controller.ActiveSessions(),
		Uptime:    time.Since(proc.StartTime),
		HeapBytes: mem.HeapAlloc,
	}
	if event.Client().Gateway != nil {
		st.Gateway = event.Client().Gateway.Latency()
	}
	if size, n, err := m.Cache.Size(); err == nil {
		st.CacheBytes, st.CacheFiles = size, n
	}
	if m.Store != nil {
		if n, err := m.Store.PlayCount(ctx); err == nil {
			st.Plays = n
		}
		if ids, err := m.Store.RecentPlays(ctx, *event.GuildID(), 5); err == nil {
			st.Recent = ids
		}
	}
	return st
}

// renderMusicStats returns the summary block and, when the guild has play
// history, the recent plays block.
func renderMusicStats(st musicStats) (string, string) {
	summary := fmt.Sprintf(sys.MsgMusicStats,
		st.Sessions,
		st.CacheFiles, sys.FormatBytes(st.CacheBytes),
		st.Plays,
		sys.FormatUptime(st.Uptime),
		st.Gateway.Milliseconds(),
		sys.FormatBytes(int64(st.HeapBytes)),
	)
	if len(st.Recent) == 0 {
		return summary, ""
	}
	lines := make([]string, 0, len(st.Recent))
	for i, id := range st.Recent {
		lines = append(lines, fmt.Sprintf("`%d.` https://youtu.be/%s", i+1, id))
	}
	return summary, fmt.Sprintf(sys.MsgMusicStatsRecent, strings.Join(lines, "\n"))
}

func handleMusicStats(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem, ephemeral bool) {
	_ = event.DeferCreateMessage(ephemeral)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, recent := renderMusicStats(collectMusicStats(ctx, event, m))
	components := []any{sys.NewTextDisplay(summary)}
	if recent != "" {
		components = append(components, sys.NewSeparator(true), sys.NewTextDisplay(recent))
	}
	if err := sys.EditInteractionV2(event.Client(), event.ApplicationCommandInteraction, sys.NewV2Container(components...)); err != nil {
		sys.LogMusic(sys.MsgMusicLogNotifyFail, *event.GuildID(), err)
	}
}
