package proc

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/sys"
)

const voiceJoinAttempts = 5

// VoiceLink connects guild players to Discord voice through disgo.
type VoiceLink struct {
	client *bot.Client
	logger *slog.Logger
}

func NewVoiceLink(client *bot.Client, logger *slog.Logger) *VoiceLink {
	if logger == nil {
		logger = sys.ComponentLogger("voice")
	}
	return &VoiceLink{client: client, logger: logger}
}

// CheckPermissions requires the bot to see, join and speak in the channel.
// Channels or members missing from the cache are left to the gateway to
// reject.
func (l *VoiceLink) CheckPermissions(guildID, channelID snowflake.ID) error {
	ch, ok := l.client.Caches.Channel(channelID)
	if !ok {
		return nil
	}
	if ch.Type() != discord.ChannelTypeGuildVoice && ch.Type() != discord.ChannelTypeGuildStageVoice {
		return &ValidationError{Field: "channel", Reason: "not a voice channel"}
	}
	self, ok := l.client.Caches.Member(guildID, l.client.ID())
	if !ok {
		return nil
	}

	perms := memberPermissionsInChannel(l.client, ch, self)
	for _, need := range []struct {
		perm discord.Permissions
		name string
	}{
		{discord.PermissionViewChannel, "View Channel"},
		{discord.PermissionConnect, "Connect"},
		{discord.PermissionSpeak, "Speak"},
	} {
		if !perms.Has(need.perm) {
			return &PermissionError{Permission: need.name, ChannelID: channelID}
		}
	}
	return nil
}

// Connect joins the channel, retrying with exponential backoff.
func (l *VoiceLink) Connect(ctx context.Context, guildID, channelID snowflake.ID) (AudioConn, error) {
	l.logger.Info(fmt.Sprintf(sys.MsgVoiceJoining, channelID, guildID))
	conn := l.client.VoiceManager.CreateConn(guildID)

	var lastErr error
	for i := range voiceJoinAttempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			l.logger.Info(fmt.Sprintf(sys.MsgVoiceRetrying, backoff, i+1, voiceJoinAttempts))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				conn.Close(context.Background())
				return nil, &ConnectionError{ChannelID: channelID, Err: ctx.Err()}
			}
		}
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = conn.Open(octx, channelID, false, false)
		cancel()
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		l.logger.Warn(fmt.Sprintf(sys.MsgVoiceJoinFail, guildID, voiceJoinAttempts, lastErr))
		conn.Close(ctx)
		return nil, &ConnectionError{ChannelID: channelID, Err: lastErr}
	}

	return &voiceConn{
		link:      l,
		guildID:   guildID,
		channelID: channelID,
		conn:      conn,
		gate:      newPauseGate(),
	}, nil
}

func (l *VoiceLink) setVoiceStatus(channelID snowflake.ID, status string) {
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	if err := l.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil); err != nil {
		l.logger.Debug(fmt.Sprintf(sys.MsgVoiceStatusFail, channelID, err))
	}
}

// voiceConn plays one track at a time on a disgo voice connection.
type voiceConn struct {
	link      *VoiceLink
	guildID   snowflake.ID
	channelID snowflake.ID
	conn      voice.Conn
	gate      *pauseGate

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *voiceConn) Play(h *PlayableHandle, onEnd func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	src, err := h.Open()
	if err != nil {
		return err
	}
	t := newTranscoder(h.VolumeRef())
	if err := t.open(src); err != nil {
		t.close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.gate.set(false)

	p := newFrameProvider(ctx, c.gate)
	c.conn.SetOpusFrameProvider(p)
	c.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone)
	go c.link.setVoiceStatus(c.channelID, sys.TruncateWithPreserve(h.Track.DisplayTitle(), 128, "", " · "+h.Track.DisplayUploader()))

	go func() {
		defer close(done)

		runErr := make(chan error, 1)
		go func() {
			defer t.close()
			runErr <- t.run(ctx, p.push)
		}()

		select {
		case <-p.finished:
		case <-ctx.Done():
		}
		cancel()
		err := <-runErr
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			c.link.logger.Warn(fmt.Sprintf(sys.MsgVoiceTranscodeErr, h.Track.DisplayTitle(), err))
		}
		onEnd(err)
	}()
	return nil
}

// stopLocked cancels the running track and waits for its goroutine so only
// one transcoder feeds the connection.
func (c *voiceConn) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.link.logger.Warn(fmt.Sprintf(sys.MsgVoiceStopSlow, c.guildID))
	}
	c.cancel, c.done = nil, nil
	c.conn.SetOpusFrameProvider(nil)
}

func (c *voiceConn) Pause()  { c.gate.set(true) }
func (c *voiceConn) Resume() { c.gate.set(false) }

func (c *voiceConn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.conn.SetSpeaking(context.Background(), 0)
}

func (c *voiceConn) Close(ctx context.Context) {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	c.link.setVoiceStatus(c.channelID, "")
	c.conn.Close(ctx)
}

// discordNotifier posts notices as V2 containers. Posting happens off the
// caller's goroutine.
type discordNotifier struct {
	client *bot.Client
	logger *slog.Logger
}

func NewDiscordNotifier(client *bot.Client, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = sys.ComponentLogger("music")
	}
	return &discordNotifier{client: client, logger: logger}
}

func noticeContainer(n Notice) sys.Container {
	if n.Thumbnail != "" {
		return sys.NewV2Container(sys.NewSection(n.Content, sys.NewThumbnail(n.Thumbnail)))
	}
	return sys.NewNoticeContainer(n.Content)
}

func (d *discordNotifier) Notify(ctx context.Context, channelID snowflake.ID, n Notice) {
	sys.SafeGo(func() {
		if _, err := sys.SendMessageV2(d.client, channelID, noticeContainer(n)); err != nil {
			d.logger.Warn(fmt.Sprintf(sys.MsgMusicLogNotifyFail, channelID, err))
		}
	})
}

func (d *discordNotifier) NotifyGuild(ctx context.Context, guildID snowflake.ID, n Notice) {
	sys.SafeGo(func() {
		channelID, ok := d.firstWritableChannel(guildID)
		if !ok {
			return
		}
		if _, err := sys.SendMessageV2(d.client, channelID, noticeContainer(n)); err != nil {
			d.logger.Warn(fmt.Sprintf(sys.MsgMusicLogNotifyFail, guildID, err))
		}
	})
}

func (d *discordNotifier) firstWritableChannel(guildID snowflake.ID) (snowflake.ID, bool) {
	self, ok := d.client.Caches.Member(guildID, d.client.ID())
	if !ok {
		return 0, false
	}
	var best discord.GuildChannel
	for ch := range d.client.Caches.Channels() {
		if ch.GuildID() != guildID || ch.Type() != discord.ChannelTypeGuildText {
			continue
		}
		perms := memberPermissionsInChannel(d.client, ch, self)
		if !perms.Has(discord.PermissionViewChannel | discord.PermissionSendMessages) {
			continue
		}
		if best == nil || ch.Position() < best.Position() {
			best = ch
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID(), true
}

// VoiceStateListener feeds gateway voice state changes into the controller.
func VoiceStateListener(c *Controller) func(event *events.GuildVoiceStateUpdate) {
	return func(event *events.GuildVoiceStateUpdate) {
		guildID := event.VoiceState.GuildID
		selfID := event.Client().ID()

		if event.VoiceState.UserID == selfID {
			if event.VoiceState.ChannelID == nil {
				c.OnBotDisconnected(guildID)
			}
			return
		}
		if c.State(guildID) == StateIdle {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		channelID, err := c.VoiceChannel(ctx, guildID)
		if err != nil || channelID == 0 {
			return
		}
		c.OnListenersChanged(guildID, countListeners(event.Client(), guildID, channelID))
	}
}

// countListeners counts non-bot members present in the channel. Deafened
// members still count; only an empty channel ends the session.
func countListeners(client *bot.Client, guildID, channelID snowflake.ID) int {
	return humansInChannel(client.Caches.VoiceStates(guildID), channelID, client.ID(), func(userID snowflake.ID) bool {
		m, ok := client.Caches.Member(guildID, userID)
		return ok && m.User.Bot
	})
}

func humansInChannel(states iter.Seq[discord.VoiceState], channelID, selfID snowflake.ID, isBot func(snowflake.ID) bool) int {
	n := 0
	for state := range states {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == selfID {
			continue
		}
		if !isBot(state.UserID) {
			n++
		}
	}
	return n
}

func memberPermissionsInChannel(client *bot.Client, channel discord.GuildChannel, member discord.Member) discord.Permissions {
	guild, ok := client.Caches.Guild(channel.GuildID())
	if !ok {
		return 0
	}
	if guild.OwnerID == member.User.ID {
		return discord.PermissionsAll
	}

	var perms discord.Permissions
	if everyone, ok := client.Caches.Role(guild.ID, guild.ID); ok {
		perms |= everyone.Permissions
	}
	for _, roleID := range member.RoleIDs {
		if role, ok := client.Caches.Role(guild.ID, roleID); ok {
			perms |= role.Permissions
		}
	}
	if perms.Has(discord.PermissionAdministrator) {
		return discord.PermissionsAll
	}

	overwrites := channel.PermissionOverwrites()
	for _, o := range overwrites {
		if o.ID() == guild.ID {
			if ro, ok := o.(discord.RolePermissionOverwrite); ok {
				perms &^= ro.Deny
				perms |= ro.Allow
			}
			break
		}
	}

	var roleAllow, roleDeny discord.Permissions
	for _, o := range overwrites {
		for _, rID := range member.RoleIDs {
			if o.ID() == rID {
				if ro, ok := o.(discord.RolePermissionOverwrite); ok {
					roleDeny |= ro.Deny
					roleAllow |= ro.Allow
				}
				break
			}
		}
	}
	perms &^= roleDeny
	perms |= roleAllow

	for _, o := range overwrites {
		if o.ID() == member.User.ID {
			if mo, ok := o.(discord.MemberPermissionOverwrite); ok {
				perms &^= mo.Deny
				perms |= mo.Allow
			}
			break
		}
	}
	return perms
}
