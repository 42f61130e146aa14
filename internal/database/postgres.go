package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL database
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Println("✅ Connected to PostgreSQL")

	// Initialize tables
	if err = InitPostgresTables(); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables() error {
	queries := []string{
		// Users table (profile data backing the identity resolver)
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(30) NOT NULL UNIQUE,
			display_name VARCHAR(100) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'student',
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		// Rooms table. last_seq is the room-scoped message sequence counter;
		// it is bumped under the room row lock so concurrent sends to the
		// same room get a total order.
		`CREATE TABLE IF NOT EXISTS rooms (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255),
			type VARCHAR(10) NOT NULL DEFAULT 'group',
			created_by UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			last_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Room members table (many-to-many relationship)
		`CREATE TABLE IF NOT EXISTS room_members (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(room_id, user_id)
		)`,

		// Room messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(room_id, seq)
		)`,

		// Per-recipient delivery/read receipts for room messages.
		// One row per member except the sender, created in the same
		// transaction as the message itself.
		`CREATE TABLE IF NOT EXISTS message_receipts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			recipient_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status VARCHAR(10) NOT NULL DEFAULT 'sent',
			delivered_at TIMESTAMP,
			read_at TIMESTAMP,
			UNIQUE(message_id, recipient_id)
		)`,

		// Unread bookkeeping per (user, room)
		`CREATE TABLE IF NOT EXISTS unread_tracking (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			last_read_message_id UUID REFERENCES messages(id) ON DELETE SET NULL,
			unread_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(user_id, room_id)
		)`,

		// Create indexes for better performance
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users(LOWER(username))`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_created_by ON rooms(created_by)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_room_id ON room_members(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_room_members_user_id ON room_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_id_seq ON messages(room_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_receipts_message_id ON message_receipts(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_message_receipts_recipient_id ON message_receipts(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_unread_tracking_user_id ON unread_tracking(user_id)`,
	}

	for _, query := range queries {
		if _, err := PostgresDB.Exec(query); err != nil {
			return err
		}
	}

	log.Println("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
