package activitypub

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

func TestBuildActorDocument(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	err, actor := directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	doc, buildErr := collections.BuildActor(actor)
	if buildErr != nil {
		t.Fatalf("BuildActor failed: %v", buildErr)
	}

	if doc.Type != "Person" {
		t.Errorf("Expected Person, got %s", doc.Type)
	}
	if doc.PreferredUsername != "alice" {
		t.Errorf("Expected preferredUsername alice, got %s", doc.PreferredUsername)
	}
	if doc.Inbox != "https://local.example/users/alice/inbox" {
		t.Errorf("Unexpected inbox: %s", doc.Inbox)
	}
	if doc.Endpoints.SharedInbox != "https://local.example/inbox" {
		t.Errorf("Unexpected shared inbox: %s", doc.Endpoints.SharedInbox)
	}
	if doc.PublicKey.ID != actor.KeyId() || doc.PublicKey.Owner != actor.ActorURI {
		t.Errorf("Unexpected public key block: %+v", doc.PublicKey)
	}
	if doc.PublicKey.PublicKeyPem == "" {
		t.Error("Expected a PEM public key")
	}
}

func TestBuildActorDisabledNotEligible(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	err, actor := directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	directory.SetEnabled(actor, false)

	if _, buildErr := collections.BuildActor(actor); buildErr != ErrNotEligible {
		t.Errorf("Expected ErrNotEligible, got %v", buildErr)
	}
}

func TestBuildGroupActorDocument(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	err, actor := directory.Ensure(domain.KindGroup, "golang")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	doc, buildErr := collections.BuildActor(actor)
	if buildErr != nil {
		t.Fatalf("BuildActor failed: %v", buildErr)
	}
	if doc.Type != "Group" {
		t.Errorf("Expected Group, got %s", doc.Type)
	}
	if doc.ID != "https://local.example/groups/golang" {
		t.Errorf("Unexpected actor URI: %s", doc.ID)
	}
}

func TestBuildFollowersCountOnly(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	err, actor := directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	for _, remote := range []string{"https://a.example/u/x", "https://b.example/u/y"} {
		database.CreateFollower(&domain.Follower{
			Id:             uuid.New(),
			ActorId:        actor.Id,
			RemoteActorURI: remote,
			InboxURI:       remote + "/inbox",
			AcceptedAt:     time.Now(),
		})
	}

	collection, buildErr := collections.BuildFollowers(actor)
	if buildErr != nil {
		t.Fatalf("BuildFollowers failed: %v", buildErr)
	}
	if collection.TotalItems != 2 {
		t.Errorf("Expected 2 followers, got %d", collection.TotalItems)
	}
	if len(collection.Items) != 0 {
		t.Error("Follower enumeration must never be exposed")
	}
}

func TestBuildNoteGated(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	user := seedUser(t, database, "alice")
	sub := seedSub(t, database, "golang")
	post := seedPost(t, database, user, sub, "hello")

	if _, buildErr := collections.BuildNote(post); buildErr != ErrNotEligible {
		t.Errorf("Expected ErrNotEligible before opt-in, got %v", buildErr)
	}

	gate.SetUserFederation(user, true)
	gate.SetPostFederation(post, true)

	note, buildErr := collections.BuildNote(post)
	if buildErr != nil {
		t.Fatalf("BuildNote failed: %v", buildErr)
	}
	if note.ID != "https://local.example/notes/"+post.Id.String() {
		t.Errorf("Unexpected note URI: %s", note.ID)
	}
	if note.AttributedTo != "https://local.example/users/alice" {
		t.Errorf("Unexpected attribution: %s", note.AttributedTo)
	}
	if !strings.Contains(note.Content, post.Title) {
		t.Error("Note content must carry the title")
	}
}

func TestBuildCreateActivity(t *testing.T) {
	database := setupTestDB(t)
	conf := testConf()
	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)

	user := seedUser(t, database, "alice")
	sub := seedSub(t, database, "golang")
	post := seedPost(t, database, user, sub, "hello")

	gate.SetUserFederation(user, true)
	gate.SetPostFederation(post, true)

	err, actor := directory.Resolve(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	create, buildErr := collections.BuildCreateActivity(actor, post)
	if buildErr != nil {
		t.Fatalf("BuildCreateActivity failed: %v", buildErr)
	}
	if create.Type != "Create" {
		t.Errorf("Expected Create, got %s", create.Type)
	}
	if create.ID != "https://local.example/activities/"+post.Id.String() {
		t.Errorf("Unexpected activity id: %s", create.ID)
	}
	if create.Actor != actor.ActorURI {
		t.Errorf("Unexpected actor: %s", create.Actor)
	}
	if create.Object.Context != nil {
		t.Error("Embedded object must not repeat the context")
	}
}
