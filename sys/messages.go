package sys

// --- Message Constants ---

const (
	// --- Core & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigReloaded      = "Configuration reloaded from .env"
	MsgConfigReloadFail    = "Ignoring .env change: %v"
	MsgConfigWatchError    = "Config watcher error: %v"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgBotAPIStatusError   = "discord API returned status %d"

	// --- Loader ---
	MsgLoaderPanicRecovered     = "Recovered from panic: %v"
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderUpToDate           = "[LOADER] Commands are up to date. (Hash: %s)"
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderScanFail           = "[SCAN] Could not list guilds: %v"
	MsgLoaderClearFail          = "[CLEANUP] Failed to clear commands in guild %s: %v"
	MsgLoaderStateSaveFail      = "[LOADER] Failed to save %s: %v"

	// --- Music: user-facing ---
	MsgMusicErrGuildOnly       = "This command can only be used in a server."
	MsgMusicErrNotInVoice      = "You need to be in a voice channel to play music!"
	MsgMusicErrEmptyQuery      = "Please provide a song name or URL."
	MsgMusicErrNoPermission    = "I don't have permission to join or speak in your voice channel."
	MsgMusicErrConnect         = "Could not connect to your voice channel. Please try again."
	MsgMusicErrResolve         = "Could not find or load that track: %s"
	MsgMusicErrTimeout         = "Loading the track took too long. Please try again."
	MsgMusicErrSuperseded      = "Playback was stopped before the track was ready."
	MsgMusicErrNothingPlaying  = "Nothing is playing right now."
	MsgMusicErrNotPaused       = "The music is not paused."
	MsgMusicErrNotConnected    = "I'm not connected to a voice channel."
	MsgMusicErrInvalidPosition = "Invalid position. The queue has %d track(s)."
	MsgMusicErrVolumeRange     = "Volume must be between 0 and 100."
	MsgMusicErrGeneric         = "Something went wrong: %v"

	MsgMusicNowPlaying      = "**Now Playing**\n[%s](%s)\n> Uploader: %s\n> Duration: `%s`"
	MsgMusicAddedToQueue    = "**Added to Queue**\n[%s](%s)\n> Position in queue: `%d`"
	MsgMusicQueueFinished   = "**Queue Finished**\nAdd more songs with `/music play`."
	MsgMusicRadioEmpty      = "Could not find related songs. Radio mode has been turned off."
	MsgMusicRadioAdded      = "Radio added **%d** related track(s)."
	MsgMusicInactivity      = "Disconnected from voice channel due to inactivity."
	MsgMusicTrackFailed     = "Could not play **%s**, skipping."
	MsgMusicSkipped         = "Skipped **%s**."
	MsgMusicPaused          = "Paused."
	MsgMusicResumed         = "Resumed."
	MsgMusicStopped         = "Stopped the music and cleared the queue."
	MsgMusicDisconnected    = "Disconnected from the voice channel."
	MsgMusicRemoved         = "Removed **%s** from the queue."
	MsgMusicVolumeSet       = "Volume set to **%d%%**."
	MsgMusicRadioOn         = "Radio mode **enabled**. Related songs will be added when the queue runs out."
	MsgMusicRadioOff        = "Radio mode **disabled**."
	MsgMusicLoopOn          = "Loop **enabled** for the current track."
	MsgMusicLoopOff         = "Loop **disabled**."
	MsgMusicQueueHeader     = "**Now Playing**"
	MsgMusicQueueUpNext     = "**Up Next**"
	MsgMusicQueueEmpty      = "_No songs in queue_"
	MsgMusicQueueMore       = "\n*...and %d more*"
	MsgMusicQueueIdle       = "Nothing is playing and the queue is empty."
	MsgMusicQueueModes      = "> Loop: `%s` · Radio: `%s` · Volume: `%d%%`"
	MsgMusicCacheCleared    = "Cleared **%d** cached file(s), freed **%s**."
	MsgMusicCacheClearedPin = "Cleared **%d** cached file(s), freed **%s**. Kept **%d** file(s) in use."
	MsgMusicCacheClearFail  = "Failed to clear the audio cache: %v"
	MsgMusicStats           = "# Music Stats\n> **Sessions:** %d\n> **Cache:** %d file(s), %s\n> **Plays recorded:** %d\n> **Uptime:** %s\n> **Gateway:** %dms\n> **Memory:** %s"
	MsgMusicStatsRecent     = "**Recently played here**\n%s"

	// --- Music: logs ---
	MsgMusicLogRequest      = "[%s] %s (%s) requested: %s"
	MsgMusicLogResolved     = "[%s] Resolved %q (%s) cached=%t"
	MsgMusicLogResolveFail  = "[%s] Resolution failed for %q: %v"
	MsgMusicLogPlaying      = "Now playing in guild %s: %s"
	MsgMusicLogFinished     = "Playback finished in guild %s: %s"
	MsgMusicLogPlayFail     = "Failed to start %s in guild %s: %v"
	MsgMusicLogQueueDone    = "Queue finished in guild %s"
	MsgMusicLogNotifyFail   = "Failed to post notice in guild %s: %v"
	MsgMusicLogStale        = "Discarding stale result in guild %s (epoch %d, now %d)"
	MsgMusicLogIdle         = "No listeners left in guild %s, disconnecting"
	MsgMusicLogExternalDrop = "Bot disconnected by external event in guild %s"
	MsgMusicLogStoreFail    = "Music store error in guild %s: %v"
	MsgMusicLogPanic        = "CRITICAL: player loop panic recovered in guild %s: %v"

	MsgVoiceJoining      = "Joining channel %s in guild %s"
	MsgVoiceRetrying     = "Retrying voice connection in %v (Attempt %d/%d)"
	MsgVoiceJoinFail     = "Failed to connect to voice in guild %s after %d attempts: %v"
	MsgVoiceTranscodeErr = "Transcoder %s failed: %v"
	MsgVoiceStatusFail   = "Failed to set voice status in %s: %v"
	MsgVoiceStopSlow     = "Previous track in guild %s did not stop in time"

	MsgRadioSearching   = "Discovering tracks related to %q by %q"
	MsgRadioSearchFail  = "Search %q failed: %v"
	MsgRadioAccepted    = "Accepted %d of %d candidates for %q"
	MsgRadioFallback    = "Primary search yielded %d/%d, trying fallback for %q"
	MsgRadioResolveSkip = "Skipping candidate %s: %v"

	MsgCacheEvicted    = "Evicted %d file(s) (%s), %s remaining"
	MsgCacheEvictFail  = "Failed to remove %s: %v"
	MsgCacheCycleFail  = "Eviction cycle failed: %v"
	MsgCacheDedupe     = "Removed duplicate cache file %s"
	MsgCacheThresholds = "Eviction thresholds: max age %s, max size %s, every %s"

	// --- Status & Activity ---
	MsgStatusUpdateFail        = "Update failed: %v"
	MsgStatusRotated           = "Status rotated to: \"%s\" (Next rotate in %v)"
)
