package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

const (
	sqlInsertActor = `INSERT OR IGNORE INTO actors(id, kind, username, display_name, summary, actor_uri, public_key, private_key, key_serial, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectActorColumns = `id, kind, username, display_name, summary, actor_uri, public_key, private_key, key_serial, enabled, created_at`

	sqlSelectActorByKindAndUsername = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE kind = ? AND username = ?`
	sqlSelectActorByKind            = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE kind = ?`
	sqlSelectActorByURI             = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE actor_uri = ?`
	sqlSelectActorById              = `SELECT ` + sqlSelectActorColumns + ` FROM actors WHERE id = ?`

	sqlUpdateActorKeys    = `UPDATE actors SET public_key = ?, private_key = ?, key_serial = ? WHERE id = ?`
	sqlUpdateActorEnabled = `UPDATE actors SET enabled = ? WHERE id = ?`
)

func (db *DB) CreateActor(a *domain.Actor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var username interface{}
		if a.Username != "" {
			username = a.Username
		}
		_, err := tx.Exec(sqlInsertActor,
			a.Id.String(), string(a.Kind), username, a.DisplayName, a.Summary,
			a.ActorURI, a.PublicKey, a.PrivateKey, a.KeySerial, boolToInt(a.Enabled), a.CreatedAt)
		return err
	})
}

func (db *DB) ReadActorByKindAndUsername(kind domain.ActorKind, username string) (error, *domain.Actor) {
	if kind == domain.KindInstance {
		return db.scanActor(db.db.QueryRow(sqlSelectActorByKind, string(kind)))
	}
	return db.scanActor(db.db.QueryRow(sqlSelectActorByKindAndUsername, string(kind), username))
}

func (db *DB) ReadActorByURI(uri string) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorByURI, uri))
}

func (db *DB) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return db.scanActor(db.db.QueryRow(sqlSelectActorById, id.String()))
}

func (db *DB) UpdateActorKeys(id uuid.UUID, publicKey, privateKey string, keySerial int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorKeys, publicKey, privateKey, keySerial, id.String())
		return err
	})
}

func (db *DB) SetActorEnabled(id uuid.UUID, enabled bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActorEnabled, boolToInt(enabled), id.String())
		return err
	})
}

func (db *DB) scanActor(row *sql.Row) (error, *domain.Actor) {
	var a domain.Actor
	var id, kind string
	var username sql.NullString
	var enabled int
	err := row.Scan(&id, &kind, &username, &a.DisplayName, &a.Summary,
		&a.ActorURI, &a.PublicKey, &a.PrivateKey, &a.KeySerial, &enabled, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	a.Id, err = uuid.Parse(id)
	if err != nil {
		return err, nil
	}
	a.Kind = domain.ActorKind(kind)
	a.Username = username.String
	a.Enabled = enabled != 0
	return nil, &a
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
