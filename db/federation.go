package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

const (
	// Followers: INSERT OR IGNORE makes re-received Follow activities no-ops.
	sqlInsertFollower = `INSERT OR IGNORE INTO followers(id, actor_id, remote_actor_uri, inbox_uri, accepted_at) VALUES (?, ?, ?, ?, ?)`

	sqlDeleteFollower            = `DELETE FROM followers WHERE actor_id = ? AND remote_actor_uri = ?`
	sqlDeleteFollowersByRemote   = `DELETE FROM followers WHERE remote_actor_uri = ?`
	sqlCountFollowers            = `SELECT COUNT(*) FROM followers WHERE actor_id = ?`
	sqlSelectFollowersByActorId  = `SELECT id, actor_id, remote_actor_uri, inbox_uri, accepted_at FROM followers WHERE actor_id = ?`
	sqlSelectFollowerByActorPair = `SELECT id, actor_id, remote_actor_uri, inbox_uri, accepted_at FROM followers WHERE actor_id = ? AND remote_actor_uri = ?`

	// Remote actor cache
	sqlInsertRemoteActor      = `INSERT INTO remote_actors(id, username, domain, actor_uri, inbox_uri, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateRemoteActor      = `UPDATE remote_actors SET username = ?, inbox_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlSelectRemoteActorByURI = `SELECT id, username, domain, actor_uri, inbox_uri, public_key_pem, last_fetched_at FROM remote_actors WHERE actor_uri = ?`
	sqlDeleteRemoteActor      = `DELETE FROM remote_actors WHERE actor_uri = ?`

	// Activity log (inbound dedup)
	sqlInsertActivity      = `INSERT OR IGNORE INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, created_at FROM activities WHERE activity_uri = ?`

	// Interactions
	sqlInsertPostLike           = `INSERT OR IGNORE INTO post_likes(id, post_id, remote_actor_uri, activity_uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeletePostLike           = `DELETE FROM post_likes WHERE post_id = ? AND remote_actor_uri = ?`
	sqlDeletePostLikeByActivity = `DELETE FROM post_likes WHERE activity_uri = ?`
	sqlCountPostLikes           = `SELECT COUNT(*) FROM post_likes WHERE post_id = ?`

	sqlInsertPostAnnounce           = `INSERT OR IGNORE INTO post_announces(id, post_id, remote_actor_uri, activity_uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlDeletePostAnnounce           = `DELETE FROM post_announces WHERE post_id = ? AND remote_actor_uri = ?`
	sqlDeletePostAnnounceByActivity = `DELETE FROM post_announces WHERE activity_uri = ?`
	sqlCountPostAnnounces           = `SELECT COUNT(*) FROM post_announces WHERE post_id = ?`

	// Blocked instances
	sqlInsertBlockedInstance = `INSERT OR REPLACE INTO blocked_instances(domain, reason, active, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectBlockedInstance = `SELECT COUNT(*) FROM blocked_instances WHERE domain = ? AND active = 1`
)

func (db *DB) CreateFollower(f *domain.Follower) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollower, f.Id.String(), f.ActorId.String(), f.RemoteActorURI, f.InboxURI, f.AcceptedAt)
		return err
	})
}

func (db *DB) DeleteFollower(actorId uuid.UUID, remoteActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, actorId.String(), remoteActorURI)
		return err
	})
}

// DeleteFollowersByRemoteURI cascades a remote actor deletion across every
// local actor they followed.
func (db *DB) DeleteFollowersByRemoteURI(remoteActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowersByRemote, remoteActorURI)
		return err
	})
}

func (db *DB) CountFollowers(actorId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountFollowers, actorId.String()).Scan(&count)
	return err, count
}

func (db *DB) ReadFollowersByActorId(actorId uuid.UUID) (error, *[]domain.Follower) {
	rows, err := db.db.Query(sqlSelectFollowersByActorId, actorId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		var id, actorId string
		if err := rows.Scan(&id, &actorId, &f.RemoteActorURI, &f.InboxURI, &f.AcceptedAt); err != nil {
			return err, &followers
		}
		f.Id, _ = uuid.Parse(id)
		f.ActorId, _ = uuid.Parse(actorId)
		followers = append(followers, f)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}

	return nil, &followers
}

func (db *DB) ReadFollower(actorId uuid.UUID, remoteActorURI string) (error, *domain.Follower) {
	row := db.db.QueryRow(sqlSelectFollowerByActorPair, actorId.String(), remoteActorURI)
	var f domain.Follower
	var id, aid string
	err := row.Scan(&id, &aid, &f.RemoteActorURI, &f.InboxURI, &f.AcceptedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(id)
	f.ActorId, _ = uuid.Parse(aid)
	return nil, &f
}

func (db *DB) CreateRemoteActor(acc *domain.RemoteActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteActor,
			acc.Id.String(), acc.Username, acc.Domain, acc.ActorURI,
			acc.InboxURI, acc.PublicKeyPem, acc.LastFetchedAt)
		return err
	})
}

func (db *DB) UpdateRemoteActor(acc *domain.RemoteActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteActor,
			acc.Username, acc.InboxURI, acc.PublicKeyPem, acc.LastFetchedAt, acc.ActorURI)
		return err
	})
}

func (db *DB) ReadRemoteActorByURI(actorURI string) (error, *domain.RemoteActor) {
	row := db.db.QueryRow(sqlSelectRemoteActorByURI, actorURI)
	var acc domain.RemoteActor
	var id string
	err := row.Scan(&id, &acc.Username, &acc.Domain, &acc.ActorURI, &acc.InboxURI, &acc.PublicKeyPem, &acc.LastFetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(id)
	return nil, &acc
}

func (db *DB) DeleteRemoteActor(actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteActor, actorURI)
		return err
	})
}

func (db *DB) CreateActivity(a *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			a.Id.String(), a.ActivityURI, a.ActivityType, a.ActorURI, a.ObjectURI, a.RawJSON, a.CreatedAt)
		return err
	})
}

func (db *DB) ReadActivityByURI(activityURI string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByURI, activityURI)
	var a domain.Activity
	var id string
	var objectURI sql.NullString
	err := row.Scan(&id, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &objectURI, &a.RawJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(id)
	a.ObjectURI = objectURI.String
	return nil, &a
}

func (db *DB) CreatePostLike(l *domain.PostLike) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostLike, l.Id.String(), l.PostId.String(), l.RemoteActorURI, l.ActivityURI, l.CreatedAt)
		return err
	})
}

func (db *DB) DeletePostLike(postId uuid.UUID, remoteActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostLike, postId.String(), remoteActorURI)
		return err
	})
}

func (db *DB) DeletePostLikeByActivityURI(activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostLikeByActivity, activityURI)
		return err
	})
}

func (db *DB) CountPostLikes(postId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPostLikes, postId.String()).Scan(&count)
	return err, count
}

func (db *DB) CreatePostAnnounce(a *domain.PostAnnounce) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostAnnounce, a.Id.String(), a.PostId.String(), a.RemoteActorURI, a.ActivityURI, a.CreatedAt)
		return err
	})
}

func (db *DB) DeletePostAnnounce(postId uuid.UUID, remoteActorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostAnnounce, postId.String(), remoteActorURI)
		return err
	})
}

func (db *DB) DeletePostAnnounceByActivityURI(activityURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostAnnounceByActivity, activityURI)
		return err
	})
}

func (db *DB) CountPostAnnounces(postId uuid.UUID) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPostAnnounces, postId.String()).Scan(&count)
	return err, count
}

func (db *DB) CreateBlockedInstance(b *domain.BlockedInstance) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlockedInstance, b.Domain, b.Reason, boolToInt(b.Active), b.CreatedAt)
		return err
	})
}

func (db *DB) IsInstanceBlocked(instanceDomain string) (error, bool) {
	var count int
	err := db.db.QueryRow(sqlSelectBlockedInstance, instanceDomain).Scan(&count)
	return err, count > 0
}
