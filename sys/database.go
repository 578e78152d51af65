package sys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mattn/go-sqlite3"
)

// --- Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	db, err := OpenDatabase(ctx, dataSourceName)
	if err != nil {
		return err
	}
	DB = db
	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

// OpenDatabase opens a sqlite database, applies the connection pragmas and
// creates the tables the bot needs.
func OpenDatabase(ctx context.Context, dataSourceName string) (*sql.DB, error) {
	// The driver registers itself via its init() function
	_ = sqlite3.SQLiteDriver{}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := db.BeginTx(initCtx, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_music (
			guild_id TEXT PRIMARY KEY,
			volume INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS play_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			content_id TEXT NOT NULL,
			title TEXT NOT NULL,
			uploader TEXT,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_guild ON play_history (guild_id, played_at)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Music Persistence ---

// historyLimit bounds play_history rows kept per guild.
const historyLimit = 200

// MusicStore persists per-guild playback settings and play history.
type MusicStore struct {
	db *sql.DB
}

func NewMusicStore(db *sql.DB) *MusicStore {
	return &MusicStore{db: db}
}

// GuildVolume returns the stored volume for a guild. ok is false when the
// guild never changed it.
func (s *MusicStore) GuildVolume(ctx context.Context, guildID snowflake.ID) (int, bool, error) {
	var volume int
	err := s.db.QueryRowContext(ctx, "SELECT volume FROM guild_music WHERE guild_id = ?", guildID.String()).Scan(&volume)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return volume, true, nil
}

func (s *MusicStore) SetGuildVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_music (guild_id, volume) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET volume = excluded.volume, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), volume)
	return err
}

// RecordPlay appends a started track to the guild's history and trims rows
// beyond historyLimit.
func (s *MusicStore) RecordPlay(ctx context.Context, guildID snowflake.ID, contentID, title, uploader string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO play_history (guild_id, content_id, title, uploader, played_at)
		VALUES (?, ?, ?, ?, ?)
	`, guildID.String(), contentID, title, uploader, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM play_history
		WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM play_history WHERE guild_id = ? ORDER BY id DESC LIMIT ?
		)
	`, guildID.String(), guildID.String(), historyLimit); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentPlays returns up to limit content ids, newest first.
func (s *MusicStore) RecentPlays(ctx context.Context, guildID snowflake.ID, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id FROM play_history
		WHERE guild_id = ? ORDER BY id DESC LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PlayCount returns how many tracks have been started across all guilds.
func (s *MusicStore) PlayCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_history").Scan(&n)
	return n, err
}
