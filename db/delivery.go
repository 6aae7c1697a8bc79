package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

const (
	sqlInsertDelivery = `INSERT INTO delivery_log(id, activity_id, activity_json, target_inbox, actor_id, status, attempts, last_error, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectDueDeliveries = `SELECT id, activity_id, activity_json, target_inbox, actor_id, status, attempts, last_error, next_retry_at, created_at
		FROM delivery_log WHERE status = 'pending' AND next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`

	// Status only ever moves forward; the WHERE clause on the current status
	// makes concurrent updates harmless.
	sqlMarkDelivered = `UPDATE delivery_log SET status = 'delivered', attempts = ? WHERE id = ? AND status = 'pending'`
	sqlMarkRetry     = `UPDATE delivery_log SET attempts = ?, last_error = ?, next_retry_at = ? WHERE id = ? AND status = 'pending'`
	sqlMarkFailed    = `UPDATE delivery_log SET status = 'failed', attempts = ?, last_error = ? WHERE id = ? AND status = 'pending'`
	sqlMarkDead      = `UPDATE delivery_log SET status = 'dead', attempts = ?, last_error = ? WHERE id = ? AND status IN ('pending', 'failed')`

	sqlMarkDeadByActivity = `UPDATE delivery_log SET status = 'dead', last_error = 'retracted before delivery' WHERE activity_id = ? AND status = 'pending'`

	sqlPurgeDeliveries = `DELETE FROM delivery_log WHERE created_at < ? AND status != 'pending'`

	sqlDeliveryStats = `SELECT status, COUNT(*) FROM delivery_log GROUP BY status`
)

func (db *DB) EnqueueDelivery(d *domain.DeliveryLog) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			d.Id.String(), d.ActivityId, d.ActivityJSON, d.TargetInbox, d.ActorId.String(),
			string(d.Status), d.Attempts, d.LastError, d.NextRetryAt, d.CreatedAt)
		return err
	})
}

func (db *DB) ReadDueDeliveries(limit int) (error, *[]domain.DeliveryLog) {
	rows, err := db.db.Query(sqlSelectDueDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryLog
	for rows.Next() {
		var d domain.DeliveryLog
		var id, actorId, status string
		var lastError sql.NullString
		if err := rows.Scan(&id, &d.ActivityId, &d.ActivityJSON, &d.TargetInbox, &actorId,
			&status, &d.Attempts, &lastError, &d.NextRetryAt, &d.CreatedAt); err != nil {
			return err, &items
		}
		d.Id, _ = uuid.Parse(id)
		d.ActorId, _ = uuid.Parse(actorId)
		d.Status = domain.DeliveryStatus(status)
		d.LastError = lastError.String
		items = append(items, d)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}

	return nil, &items
}

func (db *DB) MarkDeliveryDelivered(id uuid.UUID, attempts int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkDelivered, attempts, id.String())
		return err
	})
}

func (db *DB) MarkDeliveryRetry(id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkRetry, attempts, lastError, nextRetryAt, id.String())
		return err
	})
}

func (db *DB) MarkDeliveryFailed(id uuid.UUID, attempts int, lastError string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkFailed, attempts, lastError, id.String())
		return err
	})
}

func (db *DB) MarkDeliveryDead(id uuid.UUID, attempts int, lastError string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkDead, attempts, lastError, id.String())
		return err
	})
}

// MarkDeliveriesDeadByActivity cancels all still-pending deliveries of an
// activity, used when the underlying post is retracted before fan-out
// completes.
func (db *DB) MarkDeliveriesDeadByActivity(activityId string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkDeadByActivity, activityId)
		return err
	})
}

// PurgeDeliveries removes settled delivery rows older than the cutoff.
func (db *DB) PurgeDeliveries(olderThan time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlPurgeDeliveries, olderThan)
		return err
	})
}

// ReadDeliveryStats returns row counts by status for the admin statistics
// endpoint.
func (db *DB) ReadDeliveryStats() (error, map[string]int) {
	rows, err := db.db.Query(sqlDeliveryStats)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return err, stats
		}
		stats[status] = count
	}
	return rows.Err(), stats
}

// ReadDeliveryById exists for tests and admin inspection.
func (db *DB) ReadDeliveryById(id uuid.UUID) (error, *domain.DeliveryLog) {
	row := db.db.QueryRow(`SELECT id, activity_id, activity_json, target_inbox, actor_id, status, attempts, last_error, next_retry_at, created_at FROM delivery_log WHERE id = ?`, id.String())
	var d domain.DeliveryLog
	var rowId, actorId, status string
	var lastError sql.NullString
	err := row.Scan(&rowId, &d.ActivityId, &d.ActivityJSON, &d.TargetInbox, &actorId,
		&status, &d.Attempts, &lastError, &d.NextRetryAt, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	d.Id, _ = uuid.Parse(rowId)
	d.ActorId, _ = uuid.Parse(actorId)
	d.Status = domain.DeliveryStatus(status)
	d.LastError = lastError.String
	return nil, &d
}
