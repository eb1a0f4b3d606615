package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

// SQLiteStore handles SQLite database operations. This is the default
// store when DATABASE_URL is not configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		created_date INTEGER NOT NULL,
		first_name TEXT NOT NULL,
		username TEXT UNIQUE NOT NULL,
		avatar_url TEXT DEFAULT '',
		type INTEGER NOT NULL,
		password_encoded TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT UNIQUE NOT NULL,
		user_id TEXT NOT NULL,
		created_date INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dm_channels (
		id TEXT PRIMARY KEY,
		user1_id TEXT NOT NULL,
		user2_id TEXT NOT NULL,
		user1_visible INTEGER DEFAULT 0,
		user2_visible INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		date INTEGER NOT NULL,
		content TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		date INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);
	CREATE INDEX IF NOT EXISTS idx_channels_members ON dm_channels(user1_id, user2_id);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_date ON messages(channel_id, date);
	CREATE INDEX IF NOT EXISTS idx_attachments_resource ON attachments(resource_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, userType models.UserType, firstName, username, passwordEncoded string) (*models.User, error) {
	user := &models.User{
		ID:              uuid.New(),
		CreatedDate:     time.Now().UnixMilli(),
		FirstName:       firstName,
		Username:        username,
		Type:            userType,
		PasswordEncoded: passwordEncoded,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_date, first_name, username, avatar_url, type, password_encoded)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.ID.String(), user.CreatedDate, user.FirstName, user.Username, user.AvatarURL, user.Type, user.PasswordEncoded)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := row.Scan(&idStr, &user.CreatedDate, &user.FirstName, &user.Username, &user.AvatarURL, &user.Type, &user.PasswordEncoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID = uuid.MustParse(idStr)
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users WHERE id = ?
	`, id.String()))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users WHERE username = ?
	`, username))
}

// SearchUsers retrieves users whose username starts with the given prefix,
// excluding the given user id. An empty prefix matches everyone.
func (s *SQLiteStore) SearchUsers(ctx context.Context, usernamePrefix string, limit int, exclude uuid.UUID) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users
		WHERE username LIKE ? AND id != ?
		ORDER BY username
		LIMIT ?
	`, usernamePrefix+"%", exclude.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var idStr string
		if err := rows.Scan(&idStr, &user.CreatedDate, &user.FirstName, &user.Username, &user.AvatarURL, &user.Type, &user.PasswordEncoded); err != nil {
			return nil, err
		}
		user.ID = uuid.MustParse(idStr)
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateSession creates a new session record for the user.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID uuid.UUID, token string) (*models.Session, error) {
	session := &models.Session{
		Token:       token,
		UserID:      userID,
		CreatedDate: time.Now().UnixMilli(),
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_date) VALUES (?, ?, ?)
	`, session.Token, session.UserID.String(), session.CreatedDate)
	if err != nil {
		return nil, err
	}
	session.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var userIDStr string
	err := row.Scan(&session.ID, &session.Token, &userIDStr, &session.CreatedDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	session.UserID = uuid.MustParse(userIDStr)
	return session, nil
}

// GetSessionByToken retrieves a session by its bearer token.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, token, user_id, created_date FROM sessions WHERE token = ?
	`, token))
}

// GetSessionByUserID retrieves an existing session for the user, if any.
func (s *SQLiteStore) GetSessionByUserID(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, token, user_id, created_date FROM sessions WHERE user_id = ?
	`, userID.String()))
}

// DeleteSessionsByUserID deletes all sessions belonging to the user.
func (s *SQLiteStore) DeleteSessionsByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID.String())
	return err
}

// CreateChannel creates a new DM channel between two users.
func (s *SQLiteStore) CreateChannel(ctx context.Context, user1, user2 uuid.UUID, user1Visible, user2Visible bool) (*models.DMChannel, error) {
	channel := &models.DMChannel{
		ID:           uuid.New(),
		User1ID:      user1,
		User2ID:      user2,
		User1Visible: user1Visible,
		User2Visible: user2Visible,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_channels (id, user1_id, user2_id, user1_visible, user2_visible)
		VALUES (?, ?, ?, ?, ?)
	`, channel.ID.String(), user1.String(), user2.String(), boolToInt(user1Visible), boolToInt(user2Visible))
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func scanChannel(row *sql.Row) (*models.DMChannel, error) {
	channel := &models.DMChannel{}
	var idStr, u1Str, u2Str string
	var v1, v2 int
	err := row.Scan(&idStr, &u1Str, &u2Str, &v1, &v2)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	channel.ID = uuid.MustParse(idStr)
	channel.User1ID = uuid.MustParse(u1Str)
	channel.User2ID = uuid.MustParse(u2Str)
	channel.User1Visible = v1 == 1
	channel.User2Visible = v2 == 1
	return channel, nil
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.DMChannel, error) {
	return scanChannel(s.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels WHERE id = ?
	`, id.String()))
}

// GetChannelByMembers retrieves the channel between two users in either order.
func (s *SQLiteStore) GetChannelByMembers(ctx context.Context, user1, user2 uuid.UUID) (*models.DMChannel, error) {
	return scanChannel(s.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels
		WHERE (user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)
	`, user1.String(), user2.String(), user2.String(), user1.String()))
}

// ListVisibleChannels retrieves all channels visible to the given member.
func (s *SQLiteStore) ListVisibleChannels(ctx context.Context, userID uuid.UUID) ([]models.DMChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels
		WHERE (user1_id = ? AND user1_visible = 1) OR (user2_id = ? AND user2_visible = 1)
	`, userID.String(), userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.DMChannel
	for rows.Next() {
		var channel models.DMChannel
		var idStr, u1Str, u2Str string
		var v1, v2 int
		if err := rows.Scan(&idStr, &u1Str, &u2Str, &v1, &v2); err != nil {
			return nil, err
		}
		channel.ID = uuid.MustParse(idStr)
		channel.User1ID = uuid.MustParse(u1Str)
		channel.User2ID = uuid.MustParse(u2Str)
		channel.User1Visible = v1 == 1
		channel.User2Visible = v2 == 1
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// SetChannelVisibility updates both members' visibility flags.
func (s *SQLiteStore) SetChannelVisibility(ctx context.Context, id uuid.UUID, user1Visible, user2Visible bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dm_channels SET user1_visible = ?, user2_visible = ? WHERE id = ?
	`, boolToInt(user1Visible), boolToInt(user2Visible), id.String())
	return err
}

// CreateMessage persists a message row. The caller assigns ID and Date.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, user_id, date, content)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ChannelID.String(), msg.UserID.String(), msg.Date, msg.Content)
	return err
}

// ListMessages retrieves messages for a channel, newest first, with
// optional pivot-based pagination. A pivotDate of 0 fetches the latest
// messages; otherwise messages strictly before/after the pivot are
// returned depending on direction. Attachment rows are joined in.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID uuid.UUID, limit int, pivotDate int64, direction FetchDirection) ([]models.Message, error) {
	query := `
		SELECT id, channel_id, user_id, date, content
		FROM messages WHERE channel_id = ?`
	args := []any{channelID.String()}

	if pivotDate > 0 {
		if direction == FetchNewer {
			query += ` AND date > ?`
		} else {
			query += ` AND date < ?`
		}
		args = append(args, pivotDate)
	}

	query += ` ORDER BY date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var channelStr, userStr string
		if err := rows.Scan(&msg.ID, &channelStr, &userStr, &msg.Date, &msg.Content); err != nil {
			return nil, err
		}
		msg.ChannelID = uuid.MustParse(channelStr)
		msg.UserID = uuid.MustParse(userStr)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		atts, err := s.ListAttachmentsByMessage(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = atts
	}
	return messages, nil
}

// DeleteChannelMessages deletes all messages and their attachment rows
// for a channel.
func (s *SQLiteStore) DeleteChannelMessages(ctx context.Context, channelID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM attachments WHERE resource_id IN
			(SELECT id FROM messages WHERE channel_id = ?)
	`, channelID.String())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ?`, channelID.String())
	return err
}

// CreateAttachment persists an attachment metadata row.
func (s *SQLiteStore) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, resource_id, date, size_bytes, mime_type, name)
		VALUES (?, ?, ?, ?, ?, ?)
	`, att.ID.String(), att.ResourceID, att.Date, att.SizeBytes, att.MimeType, att.Name)
	return err
}

// GetAttachment retrieves an attachment by ID.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	att := &models.Attachment{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, date, size_bytes, mime_type, name
		FROM attachments WHERE id = ?
	`, id.String()).Scan(&idStr, &att.ResourceID, &att.Date, &att.SizeBytes, &att.MimeType, &att.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	att.ID = uuid.MustParse(idStr)
	return att, nil
}

// ListAttachmentsByMessage retrieves attachment rows owned by a message.
func (s *SQLiteStore) ListAttachmentsByMessage(ctx context.Context, messageID string) ([]models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, date, size_bytes, mime_type, name
		FROM attachments WHERE resource_id = ? ORDER BY date
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var att models.Attachment
		var idStr string
		if err := rows.Scan(&idStr, &att.ResourceID, &att.Date, &att.SizeBytes, &att.MimeType, &att.Name); err != nil {
			return nil, err
		}
		att.ID = uuid.MustParse(idStr)
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

// DeleteAttachmentsByMessage deletes all attachment rows owned by a message.
func (s *SQLiteStore) DeleteAttachmentsByMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE resource_id = ?`, messageID)
	return err
}

// ListAttachmentIDsByChannel retrieves the ids of all attachments owned
// by messages in a channel. Used for blob cleanup on bulk delete.
func (s *SQLiteStore) ListAttachmentIDsByChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id FROM attachments a
		JOIN messages m ON m.id = a.resource_id
		WHERE m.channel_id = ?
	`, channelID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idStr))
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
