package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SpeedyCraftah/go-chat-app/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		created_date BIGINT NOT NULL,
		first_name TEXT NOT NULL,
		username TEXT UNIQUE NOT NULL,
		avatar_url TEXT DEFAULT '',
		type SMALLINT NOT NULL,
		password_encoded TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		user_id UUID NOT NULL,
		created_date BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dm_channels (
		id UUID PRIMARY KEY,
		user1_id UUID NOT NULL,
		user2_id UUID NOT NULL,
		user1_visible BOOLEAN DEFAULT FALSE,
		user2_visible BOOLEAN DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id UUID NOT NULL,
		user_id UUID NOT NULL,
		date BIGINT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id UUID PRIMARY KEY,
		resource_id TEXT NOT NULL,
		date BIGINT NOT NULL,
		size_bytes BIGINT NOT NULL,
		mime_type TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_channels_members ON dm_channels(user1_id, user2_id);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_date ON messages(channel_id, date);
	CREATE INDEX IF NOT EXISTS idx_attachments_resource ON attachments(resource_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, userType models.UserType, firstName, username, passwordEncoded string) (*models.User, error) {
	user := &models.User{
		ID:              uuid.New(),
		CreatedDate:     time.Now().UnixMilli(),
		FirstName:       firstName,
		Username:        username,
		Type:            userType,
		PasswordEncoded: passwordEncoded,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, created_date, first_name, username, avatar_url, type, password_encoded)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.CreatedDate, user.FirstName, user.Username, user.AvatarURL, user.Type, user.PasswordEncoded)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.CreatedDate, &user.FirstName, &user.Username, &user.AvatarURL, &user.Type, &user.PasswordEncoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.CreatedDate, &user.FirstName, &user.Username, &user.AvatarURL, &user.Type, &user.PasswordEncoded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SearchUsers retrieves users whose username starts with the given prefix,
// excluding the given user id.
func (s *PostgresStore) SearchUsers(ctx context.Context, usernamePrefix string, limit int, exclude uuid.UUID) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_date, first_name, username, avatar_url, type, password_encoded
		FROM users
		WHERE username LIKE $1 AND id != $2
		ORDER BY username
		LIMIT $3
	`, usernamePrefix+"%", exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.CreatedDate, &user.FirstName, &user.Username, &user.AvatarURL, &user.Type, &user.PasswordEncoded); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateSession creates a new session record for the user.
func (s *PostgresStore) CreateSession(ctx context.Context, userID uuid.UUID, token string) (*models.Session, error) {
	session := &models.Session{
		Token:       token,
		UserID:      userID,
		CreatedDate: time.Now().UnixMilli(),
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (token, user_id, created_date)
		VALUES ($1, $2, $3)
		RETURNING id
	`, session.Token, session.UserID, session.CreatedDate).Scan(&session.ID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSessionByToken retrieves a session by its bearer token.
func (s *PostgresStore) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	session := &models.Session{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, token, user_id, created_date FROM sessions WHERE token = $1
	`, token).Scan(&session.ID, &session.Token, &session.UserID, &session.CreatedDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// GetSessionByUserID retrieves an existing session for the user, if any.
func (s *PostgresStore) GetSessionByUserID(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	session := &models.Session{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, token, user_id, created_date FROM sessions WHERE user_id = $1
	`, userID).Scan(&session.ID, &session.Token, &session.UserID, &session.CreatedDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// DeleteSessionsByUserID deletes all sessions belonging to the user.
func (s *PostgresStore) DeleteSessionsByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// CreateChannel creates a new DM channel between two users.
func (s *PostgresStore) CreateChannel(ctx context.Context, user1, user2 uuid.UUID, user1Visible, user2Visible bool) (*models.DMChannel, error) {
	channel := &models.DMChannel{
		ID:           uuid.New(),
		User1ID:      user1,
		User2ID:      user2,
		User1Visible: user1Visible,
		User2Visible: user2Visible,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dm_channels (id, user1_id, user2_id, user1_visible, user2_visible)
		VALUES ($1, $2, $3, $4, $5)
	`, channel.ID, user1, user2, user1Visible, user2Visible)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

// GetChannel retrieves a channel by ID.
func (s *PostgresStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.DMChannel, error) {
	channel := &models.DMChannel{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels WHERE id = $1
	`, id).Scan(&channel.ID, &channel.User1ID, &channel.User2ID, &channel.User1Visible, &channel.User2Visible)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return channel, nil
}

// GetChannelByMembers retrieves the channel between two users in either order.
func (s *PostgresStore) GetChannelByMembers(ctx context.Context, user1, user2 uuid.UUID) (*models.DMChannel, error) {
	channel := &models.DMChannel{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
	`, user1, user2).Scan(&channel.ID, &channel.User1ID, &channel.User2ID, &channel.User1Visible, &channel.User2Visible)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return channel, nil
}

// ListVisibleChannels retrieves all channels visible to the given member.
func (s *PostgresStore) ListVisibleChannels(ctx context.Context, userID uuid.UUID) ([]models.DMChannel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user1_id, user2_id, user1_visible, user2_visible
		FROM dm_channels
		WHERE (user1_id = $1 AND user1_visible) OR (user2_id = $1 AND user2_visible)
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.DMChannel
	for rows.Next() {
		var channel models.DMChannel
		if err := rows.Scan(&channel.ID, &channel.User1ID, &channel.User2ID, &channel.User1Visible, &channel.User2Visible); err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// SetChannelVisibility updates both members' visibility flags.
func (s *PostgresStore) SetChannelVisibility(ctx context.Context, id uuid.UUID, user1Visible, user2Visible bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dm_channels SET user1_visible = $1, user2_visible = $2 WHERE id = $3
	`, user1Visible, user2Visible, id)
	return err
}

// CreateMessage persists a message row. The caller assigns ID and Date.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, user_id, date, content)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ChannelID, msg.UserID, msg.Date, msg.Content)
	return err
}

// ListMessages retrieves messages for a channel, newest first, with
// optional pivot-based pagination.
func (s *PostgresStore) ListMessages(ctx context.Context, channelID uuid.UUID, limit int, pivotDate int64, direction FetchDirection) ([]models.Message, error) {
	query := `
		SELECT id, channel_id, user_id, date, content
		FROM messages WHERE channel_id = $1`
	args := []any{channelID}

	if pivotDate > 0 {
		if direction == FetchNewer {
			query += ` AND date > $2`
		} else {
			query += ` AND date < $2`
		}
		args = append(args, pivotDate)
		query += ` ORDER BY date DESC LIMIT $3`
	} else {
		query += ` ORDER BY date DESC LIMIT $2`
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.UserID, &msg.Date, &msg.Content); err != nil {
			return nil, err
		}
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
func (s *PostgresStore) DeleteChannelMessages(ctx context.Context, channelID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM attachments WHERE resource_id IN
			(SELECT id FROM messages WHERE channel_id = $1)
	`, channelID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE channel_id = $1`, channelID)
	return err
}

// CreateAttachment persists an attachment metadata row.
func (s *PostgresStore) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (id, resource_id, date, size_bytes, mime_type, name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, att.ID, att.ResourceID, att.Date, att.SizeBytes, att.MimeType, att.Name)
	return err
}

// GetAttachment retrieves an attachment by ID.
func (s *PostgresStore) GetAttachment(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	att := &models.Attachment{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, resource_id, date, size_bytes, mime_type, name
		FROM attachments WHERE id = $1
	`, id).Scan(&att.ID, &att.ResourceID, &att.Date, &att.SizeBytes, &att.MimeType, &att.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return att, nil
}

// ListAttachmentsByMessage retrieves attachment rows owned by a message.
func (s *PostgresStore) ListAttachmentsByMessage(ctx context.Context, messageID string) ([]models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, resource_id, date, size_bytes, mime_type, name
		FROM attachments WHERE resource_id = $1 ORDER BY date
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.ID, &att.ResourceID, &att.Date, &att.SizeBytes, &att.MimeType, &att.Name); err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

// DeleteAttachmentsByMessage deletes all attachment rows owned by a message.
func (s *PostgresStore) DeleteAttachmentsByMessage(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM attachments WHERE resource_id = $1`, messageID)
	return err
}

// ListAttachmentIDsByChannel retrieves the ids of all attachments owned
// by messages in a channel.
func (s *PostgresStore) ListAttachmentIDsByChannel(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id FROM attachments a
		JOIN messages m ON m.id = a.resource_id
		WHERE m.channel_id = $1
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
