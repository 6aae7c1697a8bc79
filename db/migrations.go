package db

import (
	"database/sql"
	"log"
)

const (
	// Local actor registry. actor_uri never changes once published; actors
	// are disabled, not deleted, so federation partners keep resolving them.
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		username TEXT,
		display_name TEXT,
		summary TEXT,
		actor_uri TEXT UNIQUE NOT NULL,
		public_key TEXT NOT NULL,
		private_key TEXT NOT NULL,
		key_serial INTEGER DEFAULT 0,
		enabled INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(kind, username)
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_uri ON actors(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_actors_kind_username ON actors(kind, username);
	`

	// Remote actor cache (signature verification only, TTL-checked)
	sqlCreateRemoteActorsTable = `CREATE TABLE IF NOT EXISTS remote_actors (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_actors_uri ON remote_actors(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_actors_domain ON remote_actors(domain);
	`

	// Follower edges. The UNIQUE constraint is the single point of mutual
	// exclusion for near-simultaneous Follow activities.
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		remote_actor_uri TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		accepted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, remote_actor_uri)
	)`

	sqlCreateFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_actor_id ON followers(actor_id);
		CREATE INDEX IF NOT EXISTS idx_followers_remote_uri ON followers(remote_actor_uri);
	`

	// Inbound activity log (deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
	`

	// External interactions on local posts
	sqlCreatePostLikesTable = `CREATE TABLE IF NOT EXISTS post_likes (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		remote_actor_uri TEXT NOT NULL,
		activity_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(post_id, remote_actor_uri)
	)`

	sqlCreatePostAnnouncesTable = `CREATE TABLE IF NOT EXISTS post_announces (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		remote_actor_uri TEXT NOT NULL,
		activity_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(post_id, remote_actor_uri)
	)`

	// Delivery log: append/update only, status moves forward only
	sqlCreateDeliveryLogTable = `CREATE TABLE IF NOT EXISTS delivery_log (
		id TEXT NOT NULL PRIMARY KEY,
		activity_id TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		target_inbox TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryLogIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_log_status_retry ON delivery_log(status, next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_log_activity ON delivery_log(activity_id);
	`

	sqlCreateBlockedInstancesTable = `CREATE TABLE IF NOT EXISTS blocked_instances (
		domain TEXT NOT NULL PRIMARY KEY,
		reason TEXT,
		active INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Federation settings, one row per scope, created lazily
	sqlCreateUserSettingsTable = `CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT NOT NULL PRIMARY KEY,
		federation_enabled INTEGER DEFAULT 0,
		indexable INTEGER DEFAULT 1,
		enabled_at TIMESTAMP
	)`

	sqlCreateSubSettingsTable = `CREATE TABLE IF NOT EXISTS sub_settings (
		sub_id TEXT NOT NULL PRIMARY KEY,
		federation_enabled INTEGER DEFAULT 0,
		auto_announce INTEGER DEFAULT 0,
		accept_remote_posts INTEGER DEFAULT 0,
		enabled_at TIMESTAMP
	)`

	sqlCreatePostSettingsTable = `CREATE TABLE IF NOT EXISTS post_settings (
		post_id TEXT NOT NULL PRIMARY KEY,
		should_federate INTEGER DEFAULT 0,
		note_uri TEXT,
		federated_at TIMESTAMP
	)`

	// Minimal collaborator tables: the platform owns these, federation reads
	// them and tests seed them.
	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateSubsTable = `CREATE TABLE IF NOT EXISTS subs (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		title TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		author_id TEXT NOT NULL,
		sub_id TEXT,
		title TEXT NOT NULL,
		body TEXT,
		published INTEGER DEFAULT 1,
		deleted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
	`
)

// RunMigrations executes all database migrations. Safe to run repeatedly.
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"actors", sqlCreateActorsTable},
			{"remote_actors", sqlCreateRemoteActorsTable},
			{"followers", sqlCreateFollowersTable},
			{"activities", sqlCreateActivitiesTable},
			{"post_likes", sqlCreatePostLikesTable},
			{"post_announces", sqlCreatePostAnnouncesTable},
			{"delivery_log", sqlCreateDeliveryLogTable},
			{"blocked_instances", sqlCreateBlockedInstancesTable},
			{"user_settings", sqlCreateUserSettingsTable},
			{"sub_settings", sqlCreateSubSettingsTable},
			{"post_settings", sqlCreatePostSettingsTable},
			{"users", sqlCreateUsersTable},
			{"subs", sqlCreateSubsTable},
			{"posts", sqlCreatePostsTable},
		}

		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateActorsIndices,
			sqlCreateRemoteActorsIndices,
			sqlCreateFollowersIndices,
			sqlCreateActivitiesIndices,
			sqlCreateDeliveryLogIndices,
			sqlCreatePostsIndices,
		}

		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
