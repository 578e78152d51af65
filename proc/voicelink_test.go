package proc

import (
	"slices"
	"testing"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

func TestHumansInChannel(t *testing.T) {
	t.Parallel()

	const (
		self  = snowflake.ID(1)
		other = snowflake.ID(2)
		bot   = snowflake.ID(9)
	)
	in := func(id snowflake.ID) *snowflake.ID { return &id }
	isBot := func(id snowflake.ID) bool { return id == bot }

	cases := []struct {
		name   string
		states []discord.VoiceState
		want   int
	}{
		{"empty", nil, 0},
		{"only self", []discord.VoiceState{{UserID: self, ChannelID: in(testVoice)}}, 0},
		{"other bot", []discord.VoiceState{{UserID: self, ChannelID: in(testVoice)}, {UserID: bot, ChannelID: in(testVoice)}}, 0},
		{"deafened human", []discord.VoiceState{{UserID: 10, ChannelID: in(testVoice), SelfDeaf: true}}, 1},
		{"server deafened human", []discord.VoiceState{{UserID: 11, ChannelID: in(testVoice), GuildDeaf: true}}, 1},
		{"other channel", []discord.VoiceState{{UserID: 12, ChannelID: in(other)}, {UserID: 13}}, 0},
		{"mixed", []discord.VoiceState{
			{UserID: self, ChannelID: in(testVoice)},
			{UserID: 14, ChannelID: in(testVoice)},
			{UserID: 15, ChannelID: in(testVoice), SelfDeaf: true},
			{UserID: bot, ChannelID: in(testVoice)},
		}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := humansInChannel(slices.Values(tc.states), testVoice, self, isBot); got != tc.want {
				t.Errorf("humansInChannel() = %d, want %d", got, tc.want)
			}
		})
	}
}
