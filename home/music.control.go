package home

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

func controlContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	skipped, err := m.Controller.Skip(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, fmt.Sprintf(sys.MsgMusicSkipped, skipped.DisplayTitle()), false)
}

func handleMusicPause(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	if _, err := m.Controller.Pause(ctx, *event.GuildID()); err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, sys.MsgMusicPaused, false)
}

func handleMusicResume(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	changed, err := m.Controller.Resume(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	if !changed {
		musicReply(event, sys.MsgMusicErrNotPaused, true)
		return
	}
	musicReply(event, sys.MsgMusicResumed, false)
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	if err := m.Controller.Stop(ctx, *event.GuildID()); err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, sys.MsgMusicStopped, false)
}

func handleMusicDisconnect(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	if err := m.Controller.Disconnect(ctx, *event.GuildID()); err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, sys.MsgMusicDisconnected, false)
}

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, m *proc.MusicSystem) {
	level, _ := data.OptInt("level")
	ctx, cancel := controlContext()
	defer cancel()
	if err := m.Controller.SetVolume(ctx, *event.GuildID(), level); err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	musicReply(event, fmt.Sprintf(sys.MsgMusicVolumeSet, level), false)
}

func handleMusicRadio(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	on, err := m.Controller.ToggleRadio(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	if on {
		musicReply(event, sys.MsgMusicRadioOn, false)
	} else {
		musicReply(event, sys.MsgMusicRadioOff, false)
	}
}

func handleMusicLoop(event *events.ApplicationCommandInteractionCreate, m *proc.MusicSystem) {
	ctx, cancel := controlContext()
	defer cancel()
	on, err := m.Controller.ToggleLoop(ctx, *event.GuildID())
	if err != nil {
		musicReply(event, musicErrorText(err), true)
		return
	}
	if on {
		musicReply(event, sys.MsgMusicLoopOn, false)
	} else {
		musicReply(event, sys.MsgMusicLoopOff, false)
	}
}
