package activitypub

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// ErrNotEligible marks a post/actor that must answer 404 on federation
// surfaces: either disabled, unpublished, deleted, or opted out. The
// caller never distinguishes this from a true miss.
var ErrNotEligible = errors.New("not eligible for federation")

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// ActorDocument is the actor representation served at the actor URI.
type ActorDocument struct {
	Context           interface{}    `json:"@context"`
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	PreferredUsername string         `json:"preferredUsername"`
	Name              string         `json:"name"`
	Summary           string         `json:"summary,omitempty"`
	Inbox             string         `json:"inbox"`
	Outbox            string         `json:"outbox"`
	Followers         string         `json:"followers"`
	ManuallyApproves  bool           `json:"manuallyApprovesFollowers"`
	Discoverable      bool           `json:"discoverable"`
	Endpoints         ActorEndpoints `json:"endpoints"`
	PublicKey         PublicKeyBlock `json:"publicKey"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

type PublicKeyBlock struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// OrderedCollection is the summary form served for outbox and followers.
// Only the count is public; enumeration is intentionally never exposed.
type OrderedCollection struct {
	Context    interface{}   `json:"@context"`
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	TotalItems int           `json:"totalItems"`
	Items      []interface{} `json:"orderedItems"`
}

// NoteObject renders a local post on the wire.
type NoteObject struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	AttributedTo string      `json:"attributedTo"`
	Name         string      `json:"name,omitempty"`
	Content      string      `json:"content"`
	Published    string      `json:"published"`
	To           []string    `json:"to"`
	Cc           []string    `json:"cc"`
}

// CreateActivity wraps a NoteObject for outbound delivery.
type CreateActivity struct {
	Context   interface{} `json:"@context"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Published string      `json:"published"`
	To        []string    `json:"to"`
	Cc        []string    `json:"cc"`
	Object    NoteObject  `json:"object"`
}

// Collections builds the read-path documents. No persisted state beyond
// what the directory and follower store already hold.
type Collections struct {
	db   *db.DB
	conf *util.AppConfig
	gate *Gate
}

func NewCollections(database *db.DB, conf *util.AppConfig, gate *Gate) *Collections {
	return &Collections{db: database, conf: conf, gate: gate}
}

// BuildActor renders the actor document. Disabled actors are not served.
func (c *Collections) BuildActor(actor *domain.Actor) (*ActorDocument, error) {
	if !actor.Enabled {
		return nil, ErrNotEligible
	}

	preferredUsername := actor.Username
	if actor.Kind == domain.KindInstance {
		preferredUsername = c.conf.Conf.Domain
	}

	return &ActorDocument{
		Context: []string{
			activityStreamsContext,
			"https://w3id.org/security/v1",
		},
		ID:                actor.ActorURI,
		Type:              actor.Kind.ActivityStreamsType(),
		PreferredUsername: preferredUsername,
		Name:              actor.DisplayName,
		Summary:           actor.Summary,
		Inbox:             actor.InboxURI(),
		Outbox:            actor.OutboxURI(),
		Followers:         actor.FollowersURI(),
		ManuallyApproves:  false,
		Discoverable:      true,
		Endpoints: ActorEndpoints{
			SharedInbox: fmt.Sprintf("https://%s/inbox", c.conf.Conf.Domain),
		},
		PublicKey: PublicKeyBlock{
			ID:           actor.KeyId(),
			Owner:        actor.ActorURI,
			PublicKeyPem: actor.PublicKey,
		},
	}, nil
}

// BuildOutbox returns the outbox collection. Historical pagination is not
// implemented; the collection is always empty.
func (c *Collections) BuildOutbox(actor *domain.Actor) (*OrderedCollection, error) {
	if !actor.Enabled {
		return nil, ErrNotEligible
	}
	return &OrderedCollection{
		Context:    activityStreamsContext,
		ID:         actor.OutboxURI(),
		Type:       "OrderedCollection",
		TotalItems: 0,
		Items:      []interface{}{},
	}, nil
}

// BuildFollowers returns the followers collection with only the count.
func (c *Collections) BuildFollowers(actor *domain.Actor) (*OrderedCollection, error) {
	if !actor.Enabled {
		return nil, ErrNotEligible
	}
	err, count := c.db.CountFollowers(actor.Id)
	if err != nil {
		return nil, err
	}
	return &OrderedCollection{
		Context:    activityStreamsContext,
		ID:         actor.FollowersURI(),
		Type:       "OrderedCollection",
		TotalItems: count,
		Items:      []interface{}{},
	}, nil
}

// NoteURI returns the canonical object URI for a post.
func (c *Collections) NoteURI(post *domain.Post) string {
	return fmt.Sprintf("https://%s/notes/%s", c.conf.Conf.Domain, post.Id.String())
}

// CreateActivityURI is the id the Create wrapping a post federates under.
// Deterministic per post, so retraction can name it without a lookup.
func (c *Collections) CreateActivityURI(post *domain.Post) string {
	return fmt.Sprintf("https://%s/activities/%s", c.conf.Conf.Domain, post.Id.String())
}

// BuildNote renders a post as a Note. Fails with ErrNotEligible for any
// post the gate rejects, so callers answer 404 rather than 403.
func (c *Collections) BuildNote(post *domain.Post) (*NoteObject, error) {
	err, eligible := c.gate.CanFederate(post)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	actorURI := fmt.Sprintf("https://%s/users/%s", c.conf.Conf.Domain, post.Author)

	content := post.Title
	if post.Body != "" {
		content = fmt.Sprintf("<p>%s</p><p>%s</p>", post.Title, strings.ReplaceAll(post.Body, "\n", "<br>"))
	}

	return &NoteObject{
		Context:      activityStreamsContext,
		ID:           c.NoteURI(post),
		Type:         "Note",
		AttributedTo: actorURI,
		Name:         post.Title,
		Content:      content,
		Published:    post.CreatedAt.UTC().Format(time.RFC3339),
		To: []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
		Cc: []string{
			fmt.Sprintf("%s/followers", actorURI),
		},
	}, nil
}

// BuildCreateActivity wraps an eligible post in a Create for the outbox.
func (c *Collections) BuildCreateActivity(actor *domain.Actor, post *domain.Post) (*CreateActivity, error) {
	note, err := c.BuildNote(post)
	if err != nil {
		return nil, err
	}

	// The context lives on the activity envelope.
	note.Context = nil

	return &CreateActivity{
		Context:   activityStreamsContext,
		ID:        c.CreateActivityURI(post),
		Type:      "Create",
		Actor:     actor.ActorURI,
		Published: note.Published,
		To:        note.To,
		Cc: []string{
			actor.FollowersURI(),
		},
		Object: *note,
	}, nil
}
