package home

import (
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Play music in your voice channel",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song or add it to the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "Song name or URL",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a song from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Position in the queue",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Set the playback volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "level",
						Description: "Volume from 0 to 100",
						Required:    true,
						MinValue:    intPtr(0),
						MaxValue:    intPtr(100),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "nowplaying",
				Description: "Show the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "disconnect",
				Description: "Leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "radio",
				Description: "Toggle radio mode",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loop",
				Description: "Toggle looping of the current song",
			},
		},
	}, handleMusic)

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
}

func intPtr(i int) *int {
	return &i
}

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if event.GuildID() == nil {
		musicReply(event, sys.MsgMusicErrGuildOnly, true)
		return
	}
	m := proc.GetMusicSystem()
	if m == nil {
		musicReply(event, fmt.Sprintf(sys.MsgMusicErrGeneric, "music is not ready yet"), true)
		return
	}

	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data, m)
	case "skip":
		handleMusicSkip(event, m)
	case "pause":
		handleMusicPause(event, m)
	case "resume":
		handleMusicResume(event, m)
	case "stop":
		handleMusicStop(event, m)
	case "queue":
		handleMusicQueue(event, m)
	case "remove":
		handleMusicRemove(event, data, m)
	case "volume":
		handleMusicVolume(event, data, m)
	case "nowplaying":
		handleMusicNowPlaying(event, m)
	case "disconnect":
		handleMusicDisconnect(event, m)
	case "radio":
		handleMusicRadio(event, m)
	case "loop":
		handleMusicLoop(event, m)
	}
}

func musicReply(event *events.ApplicationCommandInteractionCreate, content string, ephemeral bool) {
	if err := sys.RespondInteractionV2(event.Client(), event.ApplicationCommandInteraction, sys.NewNoticeContainer(content), ephemeral); err != nil {
		sys.LogMusic(sys.MsgMusicLogNotifyFail, *event.GuildID(), err)
	}
}

// musicErrorText maps a music error to the one notice shown to the user.
func musicErrorText(err error) string {
	var (
		resErr     *proc.ResolutionError
		posErr     *proc.InvalidPositionError
		permErr    *proc.PermissionError
		connErr    *proc.ConnectionError
		valErr     *proc.ValidationError
		timeoutErr *proc.TimeoutError
	)
	switch {
	case errors.Is(err, proc.ErrNothingPlaying):
		return sys.MsgMusicErrNothingPlaying
	case errors.Is(err, proc.ErrNotConnected):
		return sys.MsgMusicErrNotConnected
	case errors.Is(err, proc.ErrSuperseded):
		return sys.MsgMusicErrSuperseded
	case errors.As(err, &timeoutErr):
		return sys.MsgMusicErrTimeout
	case errors.As(err, &resErr):
		return fmt.Sprintf(sys.MsgMusicErrResolve, resErr.Query)
	case errors.As(err, &posErr):
		return fmt.Sprintf(sys.MsgMusicErrInvalidPosition, posErr.Size)
	case errors.As(err, &permErr):
		return sys.MsgMusicErrNoPermission
	case errors.As(err, &connErr):
		return sys.MsgMusicErrConnect
	case errors.As(err, &valErr):
		switch valErr.Field {
		case "volume":
			return sys.MsgMusicErrVolumeRange
		case "query":
			return sys.MsgMusicErrEmptyQuery
		}
		return valErr.Error()
	default:
		return fmt.Sprintf(sys.MsgMusicErrGeneric, err)
	}
}
