package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

const (
	sqlInsertUserSettings = `INSERT OR IGNORE INTO user_settings(user_id, federation_enabled, indexable, enabled_at) VALUES (?, 0, 1, NULL)`
	sqlSelectUserSettings = `SELECT user_id, federation_enabled, indexable, enabled_at FROM user_settings WHERE user_id = ?`
	sqlUpdateUserSettings = `UPDATE user_settings SET federation_enabled = ?, indexable = ?, enabled_at = ? WHERE user_id = ?`

	sqlInsertSubSettings = `INSERT OR IGNORE INTO sub_settings(sub_id, federation_enabled, auto_announce, accept_remote_posts, enabled_at) VALUES (?, 0, 0, 0, NULL)`
	sqlSelectSubSettings = `SELECT sub_id, federation_enabled, auto_announce, accept_remote_posts, enabled_at FROM sub_settings WHERE sub_id = ?`
	sqlUpdateSubSettings = `UPDATE sub_settings SET federation_enabled = ?, auto_announce = ?, accept_remote_posts = ?, enabled_at = ? WHERE sub_id = ?`

	sqlInsertPostSettings = `INSERT OR IGNORE INTO post_settings(post_id, should_federate, note_uri, federated_at) VALUES (?, 0, NULL, NULL)`
	sqlSelectPostSettings = `SELECT post_id, should_federate, note_uri, federated_at FROM post_settings WHERE post_id = ?`
	sqlUpdatePostSettings = `UPDATE post_settings SET should_federate = ?, note_uri = ?, federated_at = ? WHERE post_id = ?`
)

// ReadOrCreateUserSettings implements the lazy get-or-create contract of the
// settings model.
func (db *DB) ReadOrCreateUserSettings(userId uuid.UUID) (error, *domain.UserSettings) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUserSettings, userId.String())
		return err
	})
	if err != nil {
		return err, nil
	}

	row := db.db.QueryRow(sqlSelectUserSettings, userId.String())
	var s domain.UserSettings
	var id string
	var enabled, indexable int
	var enabledAt sql.NullTime
	if err := row.Scan(&id, &enabled, &indexable, &enabledAt); err != nil {
		return err, nil
	}
	s.UserId, _ = uuid.Parse(id)
	s.FederationEnabled = enabled != 0
	s.Indexable = indexable != 0
	if enabledAt.Valid {
		t := enabledAt.Time
		s.EnabledAt = &t
	}
	return nil, &s
}

func (db *DB) UpdateUserSettings(s *domain.UserSettings) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateUserSettings,
			boolToInt(s.FederationEnabled), boolToInt(s.Indexable), nullableTime(s.EnabledAt), s.UserId.String())
		return err
	})
}

func (db *DB) ReadOrCreateSubSettings(subId uuid.UUID) (error, *domain.SubSettings) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSubSettings, subId.String())
		return err
	})
	if err != nil {
		return err, nil
	}

	row := db.db.QueryRow(sqlSelectSubSettings, subId.String())
	var s domain.SubSettings
	var id string
	var enabled, autoAnnounce, acceptRemote int
	var enabledAt sql.NullTime
	if err := row.Scan(&id, &enabled, &autoAnnounce, &acceptRemote, &enabledAt); err != nil {
		return err, nil
	}
	s.SubId, _ = uuid.Parse(id)
	s.FederationEnabled = enabled != 0
	s.AutoAnnounce = autoAnnounce != 0
	s.AcceptRemotePosts = acceptRemote != 0
	if enabledAt.Valid {
		t := enabledAt.Time
		s.EnabledAt = &t
	}
	return nil, &s
}

func (db *DB) UpdateSubSettings(s *domain.SubSettings) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateSubSettings,
			boolToInt(s.FederationEnabled), boolToInt(s.AutoAnnounce), boolToInt(s.AcceptRemotePosts),
			nullableTime(s.EnabledAt), s.SubId.String())
		return err
	})
}

func (db *DB) ReadOrCreatePostSettings(postId uuid.UUID) (error, *domain.PostSettings) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostSettings, postId.String())
		return err
	})
	if err != nil {
		return err, nil
	}

	row := db.db.QueryRow(sqlSelectPostSettings, postId.String())
	var s domain.PostSettings
	var id string
	var shouldFederate int
	var noteURI sql.NullString
	var federatedAt sql.NullTime
	if err := row.Scan(&id, &shouldFederate, &noteURI, &federatedAt); err != nil {
		return err, nil
	}
	s.PostId, _ = uuid.Parse(id)
	s.ShouldFederate = shouldFederate != 0
	s.NoteURI = noteURI.String
	if federatedAt.Valid {
		t := federatedAt.Time
		s.FederatedAt = &t
	}
	return nil, &s
}

func (db *DB) UpdatePostSettings(s *domain.PostSettings) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var noteURI interface{}
		if s.NoteURI != "" {
			noteURI = s.NoteURI
		}
		_, err := tx.Exec(sqlUpdatePostSettings,
			boolToInt(s.ShouldFederate), noteURI, nullableTime(s.FederatedAt), s.PostId.String())
		return err
	})
}
