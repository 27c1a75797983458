package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"meshbridge/internal/migrations"
	"meshbridge/internal/models"
	"meshbridge/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable store backing the delivery core.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

// RecordCounts is the number of rows per record table.
type RecordCounts struct {
	DirectMessages int `json:"directMessages"`
	CirclePosts    int `json:"circlePosts"`
	JournalEntries int `json:"journalEntries"`
}

func New(dbPath string) (*Database, error) {
	enc, err := NewEncryptor()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	return open(dbPath, enc)
}

func open(dbPath string, enc *encryptor) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	d := &Database{db: db, encryptor: enc}
	if err := d.migrate(context.Background()); err != nil {
		return nil, closeWith(db, err)
	}
	return d, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) migrate(ctx context.Context) error {
	all, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, CreateMigrationsTableQuery); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range all {
		var applied int
		if err := d.db.QueryRowContext(ctx, SelectAppliedMigrationQuery, m.Version).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}
		if _, err := d.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
		}
		if _, err := d.db.ExecContext(ctx, InsertAppliedMigrationQuery, m.Version, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database still answers.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) InsertDirectMessage(ctx context.Context, rec models.DirectMessageRecord) error {
	content, err := d.encryptor.Encrypt(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	var metadata *string
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		s := string(raw)
		metadata = &s
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertDirectMessageQuery,
			rec.SenderID, rec.RecipientID, content, rec.MessageType, metadata)
		return err
	}, "insert direct message")
}

func (d *Database) InsertCirclePost(ctx context.Context, rec models.CirclePostRecord) error {
	content, err := d.encryptor.Encrypt(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertCirclePostQuery,
			rec.UserID, content, rec.GroupID, rec.Visibility,
			nullable(rec.ChakraTag), nullable(rec.Tone), nullable(rec.Frequency), rec.IsAnonymous)
		return err
	}, "insert circle post")
}

func (d *Database) InsertJournalEntry(ctx context.Context, rec models.JournalEntryRecord) error {
	body, err := d.encryptor.Encrypt(rec.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %w", err)
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertJournalEntryQuery,
			rec.UserID, rec.Title, body, nullable(rec.Mood), string(rawTags), rec.Source)
		return err
	}, "insert journal entry")
}

// DirectMessagesFor returns the newest direct messages addressed to recipientID.
func (d *Database) DirectMessagesFor(ctx context.Context, recipientID string, limit int) ([]models.DirectMessageRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectDirectMessagesByRecipientQuery, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query direct messages: %w", err)
	}
	defer rows.Close()

	var out []models.DirectMessageRecord
	for rows.Next() {
		var rec models.DirectMessageRecord
		var metadata sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SenderID, &rec.RecipientID, &rec.Content, &rec.MessageType, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan direct message: %w", err)
		}
		if rec.Content, err = d.encryptor.Decrypt(rec.Content); err != nil {
			return nil, fmt.Errorf("failed to decrypt content: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CirclePostsFor returns the newest posts in groupID.
func (d *Database) CirclePostsFor(ctx context.Context, groupID string, limit int) ([]models.CirclePostRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectCirclePostsByGroupQuery, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query circle posts: %w", err)
	}
	defer rows.Close()

	var out []models.CirclePostRecord
	for rows.Next() {
		var rec models.CirclePostRecord
		var chakra, tone, freq sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &rec.GroupID, &rec.Visibility,
			&chakra, &tone, &freq, &rec.IsAnonymous, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan circle post: %w", err)
		}
		if rec.Content, err = d.encryptor.Decrypt(rec.Content); err != nil {
			return nil, fmt.Errorf("failed to decrypt content: %w", err)
		}
		rec.ChakraTag, rec.Tone, rec.Frequency = chakra.String, tone.String, freq.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// JournalEntriesFor returns the newest journal entries written by userID.
func (d *Database) JournalEntriesFor(ctx context.Context, userID string, limit int) ([]models.JournalEntryRecord, error) {
	rows, err := d.db.QueryContext(ctx, SelectJournalEntriesByUserQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var out []models.JournalEntryRecord
	for rows.Next() {
		var rec models.JournalEntryRecord
		var mood sql.NullString
		var tags string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Body, &mood, &tags, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if rec.Body, err = d.encryptor.Decrypt(rec.Body); err != nil {
			return nil, fmt.Errorf("failed to decrypt body: %w", err)
		}
		rec.Mood = mood.String
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts returns row counts for the three record tables.
func (d *Database) Counts(ctx context.Context) (RecordCounts, error) {
	var c RecordCounts
	err := d.db.QueryRowContext(ctx, CountRecordsQuery).Scan(&c.DirectMessages, &c.CirclePosts, &c.JournalEntries)
	if err != nil {
		return RecordCounts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
