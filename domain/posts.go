package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is the minimal view of a local platform user that federation needs.
type User struct {
	Id        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Sub is the minimal view of a local group/community.
type Sub struct {
	Id        uuid.UUID
	Name      string
	Title     string
	CreatedAt time.Time
}

// Post is the minimal view of a local post. CRUD lives elsewhere; the
// federation subsystem only reads these rows.
type Post struct {
	Id        uuid.UUID
	AuthorId  uuid.UUID
	SubId     uuid.UUID
	Author    string // denormalized username for rendering
	Title     string
	Body      string
	Published bool
	Deleted   bool
	CreatedAt time.Time
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tAuthor: %s \n\tTitle: %s \n\tCreatedAt: %s)", p.Id, p.Author, p.Title, p.CreatedAt)
}
