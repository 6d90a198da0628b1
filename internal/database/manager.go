// Package database is the SQLite message store and identity directory.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"familychat/pkg/interfaces"
	dbconfig "familychat/pkg/database"
	"familychat/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manager implements interfaces.MessageStore and interfaces.IdentityResolver
// on SQLite. Reads run concurrently on the pool; writes go through a single
// writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the
// writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	zap.S().Infow("sqlite store opened", "path", config.Path)
	return m, nil
}

// writeLoop runs writes one at a time. Failed writes are reported, not
// retried.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.ctx.Err(); err != nil {
				op.result <- err
				continue
			}
			op.result <- op.operation(op.ctx, m.db)

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues operation and waits for it, bounded by ctx and the
// configured write timeout.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.WriteTimeout)
	defer cancel()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// AppendMessage stores a fully built message.
func (m *Manager) AppendMessage(ctx context.Context, message *types.ChatMessage) error {
	voiceNote, err := encodeOptional(message.VoiceNote)
	if err != nil {
		return fmt.Errorf("failed to marshal voice note: %w", err)
	}
	attachment, err := encodeOptional(message.FileAttachment)
	if err != nil {
		return fmt.Errorf("failed to marshal file attachment: %w", err)
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, group_id, sender, body, kind, voice_note, file_attachment, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			message.ID,
			string(message.Group),
			message.Sender,
			message.Body,
			message.Kind,
			voiceNote,
			attachment,
			message.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ListRecent returns the latest limit messages of group, oldest first.
func (m *Manager) ListRecent(ctx context.Context, group types.GroupID, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		return []*types.ChatMessage{}, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, group_id, sender, body, kind, voice_note, file_attachment, timestamp
		FROM messages
		WHERE group_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, string(group), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.ChatMessage, 0, limit)
	for rows.Next() {
		var (
			message    types.ChatMessage
			groupID    string
			voiceNote  sql.NullString
			attachment sql.NullString
		)
		err := rows.Scan(
			&message.ID,
			&groupID,
			&message.Sender,
			&message.Body,
			&message.Kind,
			&voiceNote,
			&attachment,
			&message.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.Group = types.GroupID(groupID)

		if voiceNote.Valid {
			message.VoiceNote = &types.VoiceNote{}
			if err := json.Unmarshal([]byte(voiceNote.String), message.VoiceNote); err != nil {
				return nil, fmt.Errorf("failed to unmarshal voice note: %w", err)
			}
		}
		if attachment.Valid {
			message.FileAttachment = &types.FileAttachment{}
			if err := json.Unmarshal([]byte(attachment.String), message.FileAttachment); err != nil {
				return nil, fmt.Errorf("failed to unmarshal file attachment: %w", err)
			}
		}

		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return lo.Reverse(messages), nil
}

// Resolve looks username up in the users directory of group.
func (m *Manager) Resolve(ctx context.Context, username string, group types.GroupID) (*types.Profile, error) {
	var (
		profile types.Profile
		avatar  sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT username, display_name, avatar_ref
		FROM users
		WHERE username = ? AND group_id = ?
	`, username, string(group)).Scan(&profile.Username, &profile.DisplayName, &avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if avatar.Valid && avatar.String != "" {
		profile.AvatarRef = &avatar.String
	}
	return &profile, nil
}

// UpsertProfile creates or replaces the directory entry of a user in group.
func (m *Manager) UpsertProfile(ctx context.Context, group types.GroupID, profile *types.Profile) error {
	if !types.IsValidGroup(group) {
		return types.ErrUnknownGroup
	}
	if !types.IsValidUsername(profile.Username) {
		return types.ErrInvalidUsername
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (username, group_id, display_name, avatar_ref, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (username, group_id) DO UPDATE SET
				display_name = excluded.display_name,
				avatar_ref = excluded.avatar_ref,
				updated_at = excluded.updated_at
		`, profile.Username, string(group), profile.DisplayName, profile.AvatarRef)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// HealthCheck pings the database and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the pool for schema checks.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func encodeOptional(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *types.VoiceNote:
		if x == nil {
			return nil, nil
		}
	case *types.FileAttachment:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
