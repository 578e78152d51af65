package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/sync/errgroup"
)

const (
	syncModeGlobal = "global"
	syncModeGuild  = "guild"

	keyLastMode  = "last_reg_mode"
	keyLastGuild = "last_guild_id"
	keyLastHash  = "last_cmd_hash"
)

// commandSync describes one registration: where the slash commands live
// and which command set was pushed.
type commandSync struct {
	Mode    string
	GuildID string
	Hash    string
}

// commandSyncPlan lists the REST calls a start needs. Clear steps only run
// when the target actually still has commands.
type commandSyncPlan struct {
	Register    bool
	ClearGlobal bool
	ClearGuild  snowflake.ID
	Scan        bool
}

func hashCommands(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func currentCommandSync(guildID string, cmds []discord.ApplicationCommandCreate) commandSync {
	mode := syncModeGuild
	if guildID == "" {
		mode = syncModeGlobal
	}
	return commandSync{Mode: mode, GuildID: guildID, Hash: hashCommands(cmds)}
}

func loadCommandSync(ctx context.Context, get func(ctx context.Context, key string) (string, error)) commandSync {
	var prev commandSync
	prev.Mode, _ = get(ctx, keyLastMode)
	prev.GuildID, _ = get(ctx, keyLastGuild)
	prev.Hash, _ = get(ctx, keyLastHash)
	return prev
}

// planCommandSync compares what the last start registered with what this
// one wants. force re-registers and scans every guild for leftovers.
func planCommandSync(prev, next commandSync, force bool) commandSyncPlan {
	var plan commandSyncPlan
	unchanged := next.Hash != "" && next.Hash == prev.Hash && next.Mode == prev.Mode && next.GuildID == prev.GuildID
	plan.Register = force || !unchanged

	if id, err := snowflake.Parse(prev.GuildID); err == nil && prev.GuildID != next.GuildID {
		plan.ClearGuild = id
	}
	switch next.Mode {
	case syncModeGlobal:
		plan.Scan = force || prev.Mode != next.Mode
	case syncModeGuild:
		plan.ClearGlobal = force || prev.Mode != next.Mode
		plan.Scan = force
	}
	return plan
}

// RegisterCommands pushes the registered slash commands globally, or to a
// single guild when guildIDStr is set, and clears what earlier runs left
// behind.
func RegisterCommands(client *bot.Client, guildIDStr string, forceScan bool) error {
	ctx := context.Background()

	var guildID snowflake.ID
	if guildIDStr != "" {
		id, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}
		guildID = id
	}

	next := currentCommandSync(guildIDStr, commands)
	plan := planCommandSync(loadCommandSync(ctx, GetBotConfig), next, forceScan)
	LogInfo(MsgLoaderSyncCommands, strings.ToUpper(next.Mode))

	if !plan.Register && next.Hash != "" {
		LogInfo(MsgLoaderUpToDate, next.Hash[:8])
	}
	if plan.Register {
		if err := pushCommands(client, guildID); err != nil {
			return err
		}
	}

	if plan.ClearGlobal {
		if cmds, err := client.Rest.GetGlobalCommands(client.ApplicationID, false); err == nil && len(cmds) > 0 {
			LogInfo(MsgLoaderDevGlobalClear)
			if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{}); err != nil {
				LogWarn(MsgLoaderDevGlobalClearFail, err)
			}
		}
	}
	if plan.ClearGuild != 0 {
		if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, plan.ClearGuild, false); err == nil && len(cmds) > 0 {
			LogInfo(MsgLoaderCleanup, plan.ClearGuild)
			clearCommandsIn(client, plan.ClearGuild)
		}
	}
	if plan.Scan {
		clearGuildCommands(client, guildID)
	}

	state := [][2]string{{keyLastMode, next.Mode}, {keyLastGuild, next.GuildID}}
	if next.Hash != "" {
		state = append(state, [2]string{keyLastHash, next.Hash})
	}
	saveBotConfig(ctx, SetBotConfig, state...)
	return nil
}

// pushCommands registers globally when guildID is zero. A failed guild push
// is only logged so a dev run still starts.
func pushCommands(client *bot.Client, guildID snowflake.ID) error {
	if guildID == 0 {
		LogInfo(MsgLoaderProdStarting)
		created, err := client.Rest.SetGlobalCommands(client.ApplicationID, commands)
		if err != nil {
			return fmt.Errorf(MsgLoaderProdFail, err)
		}
		for _, cmd := range created {
			LogInfo(MsgLoaderProdRegistered, cmd.Name())
		}
		return nil
	}

	LogInfo(MsgLoaderDevStarting, guildID)
	created, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
	if err != nil {
		LogWarn(MsgLoaderDevFail, err)
		return nil
	}
	for _, cmd := range created {
		LogInfo(MsgLoaderDevRegistered, cmd.Name())
	}
	return nil
}

// saveBotConfig writes each key/value pair and returns how many failed.
// Failures are logged; the next start then simply re-syncs.
func saveBotConfig(ctx context.Context, set func(ctx context.Context, key, value string) error, pairs ...[2]string) int {
	failed := 0
	for _, p := range pairs {
		if err := set(ctx, p[0], p[1]); err != nil {
			LogWarn(MsgLoaderStateSaveFail, p[0], err)
			failed++
		}
	}
	return failed
}

func clearCommandsIn(client *bot.Client, guildID snowflake.ID) {
	if _, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, []discord.ApplicationCommandCreate{}); err != nil {
		LogWarn(MsgLoaderClearFail, guildID, err)
	}
}

// clearGuildCommands removes guild-scoped commands from every guild except keep.
func clearGuildCommands(client *bot.Client, keep snowflake.ID) {
	LogInfo(MsgLoaderScanStarting)
	guilds, err := client.Rest.GetCurrentUserGuilds("", 0, 0, 100, false)
	if err != nil {
		LogWarn(MsgLoaderScanFail, err)
		return
	}

	var eg errgroup.Group
	eg.SetLimit(5)
	for _, guild := range guilds {
		if guild.ID == keep {
			continue
		}
		eg.Go(func() error {
			if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, guild.ID, false); err == nil && len(cmds) > 0 {
				LogInfo(MsgLoaderScanCleared, guild.Name, guild.ID.String())
				clearCommandsIn(client, guild.ID)
			}
			return nil
		})
	}
	_ = eg.Wait()
}
