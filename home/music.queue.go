package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

const queuePageSize = 10

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// renderQueue shows the current track, the first page of pending tracks and
// the mode flags.
func renderQueue(v proc.QueueView) string {
	if v.Current == nil && len(v.Pending) == 0 {
		return sys.MsgMusicQueueIdle
	}

	var sb strings.Builder
	if v.Current != nil {
		sb.WriteString(sys.MsgMusicQueueHeader)
		fmt.Fprintf(&sb, "\n[%s](%s) · `%s`", v.Current.DisplayTitle(), v.Current.Link(), sys.FormatTrackDuration(v.Current.Duration))
		if v.State == proc.StatePaused {
			sb.WriteString(" (paused)")
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString(sys.MsgMusicQueueUpNext)
	if len(v.Pending) == 0 {
		sb.WriteString("\n" + sys.MsgMusicQueueEmpty)
	}
	for i, t := range v.Pending {
		if i >= queuePageSize {
			fmt.Fprintf(&sb, sys.MsgMusicQueueMore, len(v.Pending)-queuePageSize)
			break
		}
		fmt.Fprintf(&sb, "\n`%d.` %s · %s", i+1, sys.TruncateCenter(t.DisplayTitle(), 60), sys.FormatTrackDuration(t.Duration))
	}

	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, sys.MsgMusicQueueModes, onOff(v.Loop), onOff(v.Radio), v.Volume)
	return sb.String()
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	v, err := m.Controller.View(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, renderQueue(v), false)
}

func handleMusicNowPlaying(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	t, err := m.Controller.CurrentTrack(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	if t == nil {
		musicReply(event, sys.MsgMusicErrNothingPlaying, true)
		return
	}
	c := playResultContainer(&proc.PlayResult{Track: t})
	if err := sys.RespondInteractionV2(event.Client(), event.ApplicationCommandInteraction, c, false); err != nil {
		sys.LogMusic(sys.MsgMusicLogNotifyFail, *event.GuildID(), err)
	}
}

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, m *proc.MusicSystem) {
	pos, _ := data.OptInt("position")
	ctx, cancel := controlContext()
	defer cancel()
	removed, err := m.Controller.RemoveAt(ctx, *event.GuildID(), pos)
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, fmt.Sprintf(sys.MsgMusicRemoved, removed.DisplayTitle()), false)
}
