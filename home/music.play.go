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

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, m *proc.MusicSystem) {
	guildID := *event.GuildID()
	query, _ := data.OptString("query")

	voiceState, ok := event.Client().Caches.VoiceState(guildID, event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		musicReply(event, sys.MsgMusicErrNotInVoice, true)
		return
	}

	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res, err := m.Controller.Play(ctx, proc.PlayRequest{
		GuildID:        guildID,
		VoiceChannelID: *voiceState.ChannelID,
		TextChannelID:  event.Channel().ID(),
		UserID:         event.User().ID,
		UserName:       event.User().Username,
		Query:          query,
	})

	var c sys.Container
	if err != nil {
		c = sys.NewNoticeContainer(musicErrorText(err))
	} else {
		c = playResultContainer(res)
	}
	if err := sys.EditInteractionV2(event.Client(), event.ApplicationCommandInteraction, c); err != nil {
		sys.LogMusic(sys.MsgMusicLogNotifyFail, guildID, err)
	}
}

func playResultContainer(res *proc.PlayResult) sys.Container {
	t := res.Track
	var content string
	if res.Position == 0 {
		content = fmt.Sprintf(sys.MsgMusicNowPlaying, t.DisplayTitle(), t.Link(), t.DisplayUploader(), sys.FormatTrackDuration(t.Duration))
	} else {
		content = fmt.Sprintf(sys.MsgMusicAddedToQueue, t.DisplayTitle(), t.Link(), res.Position)
	}
	if t.Thumbnail == "" {
		return sys.NewNoticeContainer(content)
	}
	return sys.NewV2Container(sys.NewSection(content, sys.NewThumbnail(t.Thumbnail)))
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	if query == "" || isLink(query) {
		_ = event.AutocompleteResult(nil)
		return
	}

	// Discord drops autocomplete responses after three seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	var choices []discord.AutocompleteChoice
	for _, c := range proc.Suggest(ctx, query, 10) {
		name := c.Title
		if c.Uploader != "" {
			name = c.Title + " · " + c.Uploader
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  sys.TruncateCenter(name, 100),
			Value: c.URL(),
		})
		if len(choices) >= 25 {
			break
		}
	}
	_ = event.AutocompleteResult(choices)
}

func isLink(q string) bool {
	return len(q) > 8 && (q[:7] == "http://" || q[:8] == "https://")
}
