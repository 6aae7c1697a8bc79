package activitypub

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// Directory is the registry of local actors. Creation is idempotent and
// publishes nothing by itself; an actor only becomes externally visible
// once its document is served.
type Directory struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewDirectory(database *db.DB, conf *util.AppConfig) *Directory {
	return &Directory{db: database, conf: conf}
}

// ActorURI builds the canonical URI for an actor of the given kind.
func (d *Directory) ActorURI(kind domain.ActorKind, name string) string {
	switch kind {
	case domain.KindInstance:
		return fmt.Sprintf("https://%s/actor", d.conf.Conf.Domain)
	case domain.KindGroup:
		return fmt.Sprintf("https://%s/groups/%s", d.conf.Conf.Domain, name)
	default:
		return fmt.Sprintf("https://%s/users/%s", d.conf.Conf.Domain, name)
	}
}

// Resolve returns the actor for (kind, identifier), or sql.ErrNoRows.
// Disabled actors resolve too; callers that serve documents check Enabled.
func (d *Directory) Resolve(kind domain.ActorKind, identifier string) (error, *domain.Actor) {
	return d.db.ReadActorByKindAndUsername(kind, identifier)
}

// ResolveByURI returns the local actor owning the given actor URI.
func (d *Directory) ResolveByURI(uri string) (error, *domain.Actor) {
	return d.db.ReadActorByURI(uri)
}

// Ensure returns the existing actor for (kind, identifier) or creates one
// with a fresh keypair. Safe to call repeatedly and concurrently: the
// insert is OR IGNORE on the (kind, username) constraint.
func (d *Directory) Ensure(kind domain.ActorKind, identifier string) (error, *domain.Actor) {
	err, existing := d.Resolve(kind, identifier)
	if err == nil && existing != nil {
		return nil, existing
	}
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}

	keypair := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:          uuid.New(),
		Kind:        kind,
		Username:    identifier,
		DisplayName: identifier,
		ActorURI:    d.ActorURI(kind, identifier),
		PublicKey:   keypair.Public,
		PrivateKey:  keypair.Private,
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
	if kind == domain.KindInstance {
		actor.Username = ""
		actor.DisplayName = d.conf.Conf.Domain
	}

	if err := d.db.CreateActor(actor); err != nil {
		return err, nil
	}

	// Re-read in case a concurrent Ensure won the insert.
	return d.Resolve(kind, identifier)
}

// EnsureInstanceActor lazily provisions the single instance-wide actor.
func (d *Directory) EnsureInstanceActor() (error, *domain.Actor) {
	return d.Ensure(domain.KindInstance, "")
}

// RotateKey replaces the actor's keypair and bumps the key serial so the
// published key id changes and stale remote caches miss.
func (d *Directory) RotateKey(actor *domain.Actor) error {
	keypair := util.GeneratePemKeypair()
	serial := actor.KeySerial + 1
	if err := d.db.UpdateActorKeys(actor.Id, keypair.Public, keypair.Private, serial); err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}
	actor.PublicKey = keypair.Public
	actor.PrivateKey = keypair.Private
	actor.KeySerial = serial
	return nil
}

// SetEnabled soft-enables or soft-disables an actor. The actor URI stays
// stable either way.
func (d *Directory) SetEnabled(actor *domain.Actor, enabled bool) error {
	if err := d.db.SetActorEnabled(actor.Id, enabled); err != nil {
		return err
	}
	actor.Enabled = enabled
	return nil
}
