package store

// schema runs one statement at a time; both dialects accept it unchanged.
// Timestamps are fixed-width UTC text so they sort as strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		cp_available INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL REFERENCES players(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		npc BOOLEAN NOT NULL DEFAULT FALSE,
		cp_spent INTEGER NOT NULL DEFAULT 0,
		cp_available INTEGER NOT NULL DEFAULT 0,
		cp_transferred INTEGER NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_characters_player ON characters(player_id)`,
	`CREATE TABLE IF NOT EXISTS character_origins (
		character_id TEXT NOT NULL REFERENCES characters(id),
		origin_id BIGINT NOT NULL,
		category TEXT NOT NULL,
		PRIMARY KEY (character_id, origin_id)
	)`,
	`CREATE TABLE IF NOT EXISTS character_headers (
		character_id TEXT NOT NULL REFERENCES characters(id),
		header_id BIGINT NOT NULL,
		PRIMARY KEY (character_id, header_id)
	)`,
	`CREATE TABLE IF NOT EXISTS character_skills (
		character_id TEXT NOT NULL REFERENCES characters(id),
		skill_id BIGINT NOT NULL,
		header_id BIGINT NOT NULL,
		bought INTEGER NOT NULL DEFAULT 0,
		spent INTEGER NOT NULL DEFAULT 0,
		granted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (character_id, skill_id, header_id)
	)`,
	`CREATE TABLE IF NOT EXISTS character_grants (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL REFERENCES characters(id),
		kind TEXT NOT NULL,
		target_id BIGINT NOT NULL,
		header_id BIGINT NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		free BOOLEAN NOT NULL DEFAULT TRUE,
		picks_remaining INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grants_character ON character_grants(character_id)`,
	`CREATE TABLE IF NOT EXISTS character_logs (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		cost INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_character ON character_logs(character_id, created_at)`,
}

const (
	qCharacter = `SELECT id, player_id, name, status, active, npc, cp_spent, cp_available, cp_transferred, version, created_at, updated_at FROM characters WHERE id = ?`
	qOrigins   = `SELECT origin_id, category FROM character_origins WHERE character_id = ?`
	qHeaders   = `SELECT header_id FROM character_headers WHERE character_id = ?`
	qSkills    = `SELECT skill_id, header_id, bought, spent, granted FROM character_skills WHERE character_id = ?`

	qCharactersOfPlayer = `SELECT id FROM characters WHERE player_id = ? ORDER BY id`

	qInsertCharacter = `INSERT INTO characters (id, player_id, name, status, active, npc, cp_spent, cp_available, cp_transferred, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qUpdateCharacter = `UPDATE characters SET player_id = ?, name = ?, status = ?, active = ?, npc = ?, cp_spent = ?, cp_available = ?, cp_transferred = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`

	qDeleteOrigins = `DELETE FROM character_origins WHERE character_id = ?`
	qDeleteHeaders = `DELETE FROM character_headers WHERE character_id = ?`
	qDeleteSkills  = `DELETE FROM character_skills WHERE character_id = ?`
	qInsertOrigin  = `INSERT INTO character_origins (character_id, origin_id, category) VALUES (?, ?, ?)`
	qInsertHeader  = `INSERT INTO character_headers (character_id, header_id) VALUES (?, ?)`
	qInsertSkill   = `INSERT INTO character_skills (character_id, skill_id, header_id, bought, spent, granted) VALUES (?, ?, ?, ?, ?, ?)`

	qPlayer       = `SELECT id, user_id, name, cp_available, created_at FROM players WHERE id = ?`
	qInsertPlayer = `INSERT INTO players (id, user_id, name, cp_available, created_at) VALUES (?, ?, ?, ?, ?)`
	qUpdatePlayer = `UPDATE players SET user_id = ?, name = ?, cp_available = ? WHERE id = ?`

	qGrants      = `SELECT id, character_id, kind, target_id, header_id, reason, free, picks_remaining, created_by, created_at FROM character_grants WHERE character_id = ? ORDER BY created_at, id`
	qUpsertGrant = `INSERT INTO character_grants (id, character_id, kind, target_id, header_id, reason, free, picks_remaining, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO UPDATE SET reason = excluded.reason, free = excluded.free, picks_remaining = excluded.picks_remaining`

	qInsertLog = `INSERT INTO character_logs (id, character_id, actor_id, action, message, target, cost, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qLogs      = `SELECT id, character_id, actor_id, action, message, target, cost, metadata, created_at FROM character_logs WHERE character_id = ? ORDER BY created_at, id`
)
