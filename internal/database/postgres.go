package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PgRepository struct {
	conn *sql.DB
}

// NewPgRepository connects to dsn and migrates the schema.
func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

func (db *PgRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const channelColumns = "id, sid, unique_name, friendly_name, created_by, last_index, created_at, updated_at"

func scanChannel(row *sql.Row) (Channel, error) {
	var c Channel
	err := row.Scan(
		&c.Id,
		&c.Sid,
		&c.UniqueName,
		&c.FriendlyName,
		&c.CreatedBy,
		&c.LastIndex,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	return c, err
}

func (db *PgRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO channels (sid, unique_name, friendly_name, created_by, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+channelColumns,
		params.Sid,
		params.UniqueName,
		params.FriendlyName,
		params.CreatedBy,
		now,
		now,
	)

	c, err := scanChannel(res)
	if err != nil {
		if isUniqueViolation(err) {
			return Channel{}, ErrConflict
		}
		return Channel{}, fmt.Errorf("create channel: %w", err)
	}

	return c, nil
}

func (db *PgRepository) GetChannelByUniqueName(uniqueName string) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT "+channelColumns+" FROM channels WHERE unique_name = $1 LIMIT 1",
		uniqueName,
	)

	c, err := scanChannel(row)
	return c, notFound(err)
}

func (db *PgRepository) GetChannelBySid(sid string) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT "+channelColumns+" FROM channels WHERE sid = $1 LIMIT 1",
		sid,
	)

	c, err := scanChannel(row)
	return c, notFound(err)
}

func (db *PgRepository) AddMember(channelSid, identity string) (bool, error) {
	res, err := db.conn.Exec(
		"INSERT INTO members (channel_id, identity, created_at) "+
			"SELECT id, $2, $3 FROM channels WHERE sid = $1 "+
			"ON CONFLICT (channel_id, identity) DO NOTHING",
		channelSid,
		identity,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := db.GetChannelBySid(channelSid); err != nil {
			return false, err
		}
	}

	return n > 0, nil
}

func (db *PgRepository) IsMember(channelSid, identity string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM members m JOIN channels c ON c.id = m.channel_id "+
			"WHERE c.sid = $1 AND m.identity = $2)",
		channelSid,
		identity,
	).Scan(&exists)

	return exists, err
}

// CreateMessage bumps the channel's last index and inserts the message in
// one transaction, so concurrent writers on any instance get distinct,
// gapless indexes.
func (db *PgRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	msg := Message{
		ChannelSid: params.ChannelSid,
		Author:     params.Author,
		Body:       params.Body,
		CreatedAt:  now,
	}

	err = tx.QueryRow(
		"UPDATE channels SET last_index = last_index + 1, updated_at = $2 "+
			"WHERE sid = $1 RETURNING id, last_index",
		params.ChannelSid,
		now,
	).Scan(&msg.ChannelId, &msg.Index)
	if err != nil {
		err = notFound(err)
		return Message{}, err
	}

	err = tx.QueryRow(
		"INSERT INTO messages (channel_id, idx, author, body, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		msg.ChannelId,
		msg.Index,
		msg.Author,
		msg.Body,
		msg.CreatedAt,
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgRepository) GetMessages(channelSid string) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.idx, m.channel_id, c.sid, m.author, m.body, m.created_at "+
			"FROM messages m JOIN channels c ON c.id = m.channel_id "+
			"WHERE c.sid = $1 ORDER BY m.idx ASC",
		channelSid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.Index, &msg.ChannelId, &msg.ChannelSid, &msg.Author, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
