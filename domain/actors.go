package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorKind discriminates the three federation-addressable identities.
type ActorKind string

const (
	KindInstance ActorKind = "instance"
	KindUser     ActorKind = "user"
	KindGroup    ActorKind = "group"
)

// ActivityStreamsType maps the kind to the actor type served in documents.
func (k ActorKind) ActivityStreamsType() string {
	switch k {
	case KindInstance:
		return "Application"
	case KindGroup:
		return "Group"
	default:
		return "Person"
	}
}

// Actor is a local federation identity: the instance itself, a user, or a sub.
// ActorURI is immutable once published; actors are soft-disabled, never deleted.
type Actor struct {
	Id          uuid.UUID
	Kind        ActorKind
	Username    string // empty for the instance actor
	DisplayName string
	Summary     string
	ActorURI    string
	PublicKey   string
	PrivateKey  string // never serialized outward
	KeySerial   int    // bumped on key rotation, part of the key id
	Enabled     bool
	CreatedAt   time.Time
}

func (a *Actor) InboxURI() string {
	if a.Kind == KindInstance {
		// The shared inbox doubles as the instance inbox.
		domain, _ := hostOf(a.ActorURI)
		return fmt.Sprintf("https://%s/inbox", domain)
	}
	return a.ActorURI + "/inbox"
}

func (a *Actor) OutboxURI() string {
	if a.Kind == KindInstance {
		domain, _ := hostOf(a.ActorURI)
		return fmt.Sprintf("https://%s/outbox", domain)
	}
	return a.ActorURI + "/outbox"
}

func (a *Actor) FollowersURI() string {
	if a.Kind == KindInstance {
		domain, _ := hostOf(a.ActorURI)
		return fmt.Sprintf("https://%s/followers", domain)
	}
	return a.ActorURI + "/followers"
}

// KeyId returns the fragment URI of the actor's current public key.
// Rotation bumps the serial so stale remote caches miss on the new id.
func (a *Actor) KeyId() string {
	if a.KeySerial > 0 {
		return fmt.Sprintf("%s#main-key-%d", a.ActorURI, a.KeySerial)
	}
	return a.ActorURI + "#main-key"
}

// RemoteActor is a cache entry for a federated peer, keyed by ActorURI.
// Not authoritative; safe to evict and re-fetch.
type RemoteActor struct {
	Id            uuid.UUID
	Username      string
	Domain        string
	ActorURI      string
	InboxURI      string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// Follower is the edge (local actor, remote follower URI), unique per pair.
type Follower struct {
	Id             uuid.UUID
	ActorId        uuid.UUID
	RemoteActorURI string
	InboxURI       string
	AcceptedAt     time.Time
}
