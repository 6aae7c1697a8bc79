package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

func hostOf(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	return parsed.Host, nil
}

// UserSettings holds a user's federation opt-in state, created lazily.
type UserSettings struct {
	UserId            uuid.UUID
	FederationEnabled bool
	Indexable         bool
	EnabledAt         *time.Time
}

// SubSettings holds a sub's federation opt-in state, created lazily.
type SubSettings struct {
	SubId             uuid.UUID
	FederationEnabled bool
	AutoAnnounce      bool
	AcceptRemotePosts bool
	EnabledAt         *time.Time
}

// PostSettings holds per-post federation state plus the resulting note URI.
type PostSettings struct {
	PostId         uuid.UUID
	ShouldFederate bool
	NoteURI        string
	FederatedAt    *time.Time
}

// BlockedInstance is consulted before accepting inbound activities and
// before attempting outbound delivery to the domain.
type BlockedInstance struct {
	Domain    string
	Reason    string
	Active    bool
	CreatedAt time.Time
}

// Activity is the inbound activity log row, used for deduplication.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	CreatedAt    time.Time
}

// PostLike is a counted external like on a local post, unique per
// (post, remote actor).
type PostLike struct {
	Id             uuid.UUID
	PostId         uuid.UUID
	RemoteActorURI string
	ActivityURI    string
	CreatedAt      time.Time
}

// PostAnnounce is a counted external boost on a local post, unique per
// (post, remote actor).
type PostAnnounce struct {
	Id             uuid.UUID
	PostId         uuid.UUID
	RemoteActorURI string
	ActivityURI    string
	CreatedAt      time.Time
}
