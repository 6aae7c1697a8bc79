package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

// The platform owns users, subs and posts; federation only reads them.
// The write helpers exist for seeding and tests.
const (
	sqlInsertUser           = `INSERT INTO users(id, username, created_at) VALUES (?, ?, ?)`
	sqlSelectUserById       = `SELECT id, username, created_at FROM users WHERE id = ?`
	sqlSelectUserByUsername = `SELECT id, username, created_at FROM users WHERE username = ?`

	sqlInsertSub       = `INSERT INTO subs(id, name, title, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectSubById   = `SELECT id, name, title, created_at FROM subs WHERE id = ?`
	sqlSelectSubByName = `SELECT id, name, title, created_at FROM subs WHERE name = ?`

	sqlInsertPost     = `INSERT INTO posts(id, author_id, sub_id, title, body, published, deleted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPostById = `SELECT posts.id, posts.author_id, posts.sub_id, users.username, posts.title, posts.body, posts.published, posts.deleted, posts.created_at
		FROM posts INNER JOIN users ON users.id = posts.author_id WHERE posts.id = ?`
	sqlMarkPostDeleted = `UPDATE posts SET deleted = 1 WHERE id = ?`

	sqlSelectFederatedPublicPosts = `SELECT posts.id, posts.author_id, posts.sub_id, users.username, posts.title, posts.body, posts.published, posts.deleted, posts.created_at
		FROM posts
		INNER JOIN users ON users.id = posts.author_id
		INNER JOIN post_settings ON post_settings.post_id = posts.id
		INNER JOIN user_settings ON user_settings.user_id = posts.author_id
		WHERE posts.published = 1 AND posts.deleted = 0
		  AND post_settings.should_federate = 1 AND user_settings.federation_enabled = 1
		ORDER BY posts.created_at DESC LIMIT ?`
)

func (db *DB) CreateUser(u *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertUser, u.Id.String(), u.Username, u.CreatedAt)
		return err
	})
}

func (db *DB) ReadUserById(id uuid.UUID) (error, *domain.User) {
	return db.scanUser(db.db.QueryRow(sqlSelectUserById, id.String()))
}

func (db *DB) ReadUserByUsername(username string) (error, *domain.User) {
	return db.scanUser(db.db.QueryRow(sqlSelectUserByUsername, username))
}

func (db *DB) scanUser(row *sql.Row) (error, *domain.User) {
	var u domain.User
	var id string
	err := row.Scan(&id, &u.Username, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	u.Id, _ = uuid.Parse(id)
	return nil, &u
}

func (db *DB) CreateSub(s *domain.Sub) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSub, s.Id.String(), s.Name, s.Title, s.CreatedAt)
		return err
	})
}

func (db *DB) ReadSubById(id uuid.UUID) (error, *domain.Sub) {
	return db.scanSub(db.db.QueryRow(sqlSelectSubById, id.String()))
}

func (db *DB) ReadSubByName(name string) (error, *domain.Sub) {
	return db.scanSub(db.db.QueryRow(sqlSelectSubByName, name))
}

func (db *DB) scanSub(row *sql.Row) (error, *domain.Sub) {
	var s domain.Sub
	var id string
	var title sql.NullString
	err := row.Scan(&id, &s.Name, &title, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	s.Id, _ = uuid.Parse(id)
	s.Title = title.String
	return nil, &s
}

func (db *DB) CreatePost(p *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		var subId interface{}
		if p.SubId != uuid.Nil {
			subId = p.SubId.String()
		}
		_, err := tx.Exec(sqlInsertPost,
			p.Id.String(), p.AuthorId.String(), subId, p.Title, p.Body,
			boolToInt(p.Published), boolToInt(p.Deleted), p.CreatedAt)
		return err
	})
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return db.scanPost(db.db.QueryRow(sqlSelectPostById, id.String()))
}

func (db *DB) MarkPostDeleted(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkPostDeleted, id.String())
		return err
	})
}

func (db *DB) scanPost(row *sql.Row) (error, *domain.Post) {
	var p domain.Post
	var id, authorId string
	var subId, body sql.NullString
	var published, deleted int
	err := row.Scan(&id, &authorId, &subId, &p.Author, &p.Title, &body, &published, &deleted, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	p.Id, _ = uuid.Parse(id)
	p.AuthorId, _ = uuid.Parse(authorId)
	if subId.Valid {
		p.SubId, _ = uuid.Parse(subId.String)
	}
	p.Body = body.String
	p.Published = published != 0
	p.Deleted = deleted != 0
	return nil, &p
}

// ReadFederatedPublicPosts returns the newest published, federation-eligible
// posts (RSS feed and similar read surfaces).
func (db *DB) ReadFederatedPublicPosts(limit int) (error, *[]domain.Post) {
	rows, err := db.db.Query(sqlSelectFederatedPublicPosts, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var id, authorId string
		var subId, body sql.NullString
		var published, deleted int
		if err := rows.Scan(&id, &authorId, &subId, &p.Author, &p.Title, &body, &published, &deleted, &p.CreatedAt); err != nil {
			return err, &posts
		}
		p.Id, _ = uuid.Parse(id)
		p.AuthorId, _ = uuid.Parse(authorId)
		if subId.Valid {
			p.SubId, _ = uuid.Parse(subId.String)
		}
		p.Body = body.String
		p.Published = published != 0
		p.Deleted = deleted != 0
		posts = append(posts, p)
	}
	if err = rows.Err(); err != nil {
		return err, &posts
	}

	return nil, &posts
}
