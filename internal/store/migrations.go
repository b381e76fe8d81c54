package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create profiles",
		SQL: `
			CREATE TABLE profiles (
				user_key     TEXT PRIMARY KEY,
				topic        TEXT NOT NULL DEFAULT '',
				personality  TEXT NOT NULL DEFAULT '',
				tone         TEXT NOT NULL DEFAULT '',
				locale       TEXT NOT NULL DEFAULT 'en',
				voice_id     TEXT NOT NULL DEFAULT '',
				active       INTEGER NOT NULL DEFAULT 1,
				last_used    TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "add continuity token",
		SQL: `
			ALTER TABLE profiles ADD COLUMN continuity_token TEXT NOT NULL DEFAULT '';
		`,
	},
}
