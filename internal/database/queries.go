package database

const (
	InsertDirectMessageQuery = `
		INSERT INTO direct_messages (
			sender_id, recipient_id, content, message_type, metadata
		) VALUES (?, ?, ?, ?, ?)
	`

	InsertCirclePostQuery = `
		INSERT INTO circle_posts (
			user_id, content, group_id, visibility,
			chakra_tag, tone, frequency, is_anonymous
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	InsertJournalEntryQuery = `
		INSERT INTO journal_entries (
			user_id, title, body, mood, tags, source
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	SelectDirectMessagesByRecipientQuery = `
		SELECT id, sender_id, recipient_id, content, message_type, metadata, created_at
		FROM direct_messages
		WHERE recipient_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	SelectCirclePostsByGroupQuery = `
		SELECT id, user_id, content, group_id, visibility,
		       chakra_tag, tone, frequency, is_anonymous, created_at
		FROM circle_posts
		WHERE group_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	SelectJournalEntriesByUserQuery = `
		SELECT id, user_id, title, body, mood, tags, source, created_at
		FROM journal_entries
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	CountRecordsQuery = `
		SELECT
			(SELECT COUNT(*) FROM direct_messages),
			(SELECT COUNT(*) FROM circle_posts),
			(SELECT COUNT(*) FROM journal_entries)
	`

	CreateMigrationsTableQuery = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`

	SelectAppliedMigrationQuery = `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`

	InsertAppliedMigrationQuery = `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`
)
