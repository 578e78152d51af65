package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/leeineian/melody/home"
	"github.com/leeineian/melody/proc"
	"github.com/leeineian/melody/sys"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	silent   bool
	skipReg  bool
	clearAll bool
}

func main() {
	// LogFatal panics so deferred cleanup runs.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           sys.GetProjectName(),
		Short:         "Discord music bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.silent, "silent", false, "Disable all log output")
	cmd.Flags().BoolVar(&opts.skipReg, "skip-reg", false, "Skip command registration")
	cmd.Flags().BoolVar(&opts.clearAll, "clear-all", false, "Force clear guild commands (scan all guilds)")

	cmd.AddCommand(newCacheCommand())
	return cmd
}

func runBot(opts *rootOptions) error {
	cfg, err := sys.LoadConfig()
	if err != nil {
		return fmt.Errorf(sys.MsgConfigFailedToLoad, err)
	}
	sys.InitLogger(opts.silent || cfg.Silent, true)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := sys.InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		sys.LogFatal("Failed to initialize database: %v", err)
	}
	defer sys.CloseDatabase()

	botName := sys.GetProjectName()
	if cfg.Token != "" {
		if name, _, err := sys.GetBotUsername(context.Background(), cfg.Token); err == nil {
			botName = name
		} else {
			sys.LogError("Failed to get bot username: %v", err)
		}
	}
	sys.LogInfo(sys.MsgBotStarting, botName)

	lock, err := acquireInstanceLock(pidFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sys.SetAppContext(ctx)

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	music, err := proc.NewMusicSystem(ctx, client, cfg, sys.NewMusicStore(sys.DB))
	if err != nil {
		return fmt.Errorf("failed to start music: %w", err)
	}

	if err := sys.WatchEnvFile(ctx, music.Reload); err != nil {
		sys.LogWarn("Config watcher disabled: %v", err)
	}

	if !opts.skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID, opts.clearAll); err != nil {
			sys.LogError(sys.MsgBotRegisterFail, err)
		}
	} else {
		sys.LogInfo("Skipping command registration as requested.")
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !sys.IsSilent {
		fmt.Println()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sys.LogInfo("Shutting down all daemons...")
	sys.ShutdownDaemons(shutdownCtx)
	music.Shutdown(shutdownCtx)

	if botUser, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, botUser.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, botName)
	}
	return nil
}
