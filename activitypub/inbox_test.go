package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// newRemoteServer serves a minimal remote actor document, standing in for
// a federated peer.
func newRemoteServer(t *testing.T, username string) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorURI := server.URL + "/users/" + username
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                actorURI,
			"type":              "Person",
			"preferredUsername": username,
			"inbox":             actorURI + "/inbox",
			"publicKey": map[string]string{
				"id":           actorURI + "#main-key",
				"owner":        actorURI,
				"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nplaceholder\n-----END PUBLIC KEY-----",
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

type inboxEnv struct {
	db        *db.DB
	conf      *util.AppConfig
	directory *Directory
	gate      *Gate
	inbox     *Inbox
}

// newInboxEnv wires the inbox service graph with signature enforcement off
// so processing paths can be exercised without signing requests.
func newInboxEnv(t *testing.T) *inboxEnv {
	t.Helper()
	database := setupTestDB(t)
	conf := testConf()
	conf.Conf.EnforceSignatures = false

	directory := NewDirectory(database, conf)
	gate := NewGate(database, directory)
	collections := NewCollections(database, conf, gate)
	remotes := NewRemoteActors(database, conf)
	outbox := NewOutbox(database, conf, collections)
	inbox := NewInbox(database, conf, remotes, outbox, gate, nil)

	return &inboxEnv{db: database, conf: conf, directory: directory, gate: gate, inbox: inbox}
}

func (e *inboxEnv) post(t *testing.T, payload interface{}, target *domain.Actor) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest("POST", "https://local.example/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	w := httptest.NewRecorder()
	e.inbox.HandleInbox(w, req, target)
	return w
}

func TestInboxRejectsMalformedActivity(t *testing.T) {
	env := newInboxEnv(t)

	req := httptest.NewRequest("POST", "https://local.example/inbox", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	env.inbox.HandleInbox(w, req, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestInboxRejectsMissingFields(t *testing.T) {
	env := newInboxEnv(t)

	w := env.post(t, map[string]interface{}{"id": "https://x.example/1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing type/actor, got %d", w.Code)
	}
}

func TestInboxEnforcesSignatures(t *testing.T) {
	env := newInboxEnv(t)
	env.conf.Conf.EnforceSignatures = true

	w := env.post(t, map[string]interface{}{
		"id":    "https://remote.example/activities/1",
		"type":  "Follow",
		"actor": "https://remote.example/users/bob",
	}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unsigned request under enforcement, got %d", w.Code)
	}
}

func TestInboxDropsBlockedInstanceSilently(t *testing.T) {
	env := newInboxEnv(t)

	env.db.CreateBlockedInstance(&domain.BlockedInstance{
		Domain: "remote.example", Reason: "spam", Active: true, CreatedAt: time.Now(),
	})

	w := env.post(t, map[string]interface{}{
		"id":    "https://remote.example/activities/1",
		"type":  "Follow",
		"actor": "https://remote.example/users/bob",
	}, nil)

	// Same answer as success: no signal to the blocked operator
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for blocked instance, got %d", w.Code)
	}
}

func TestInboxAcceptsUnknownActivityType(t *testing.T) {
	env := newInboxEnv(t)

	w := env.post(t, map[string]interface{}{
		"id":    "https://remote.example/activities/1",
		"type":  "Question",
		"actor": "https://remote.example/users/bob",
	}, nil)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for unsupported type, got %d", w.Code)
	}
}

func TestInboxFollowCreatesEdgeAndQueuesAccept(t *testing.T) {
	env := newInboxEnv(t)
	remote := newRemoteServer(t, "bob")
	remoteActorURI := remote.URL + "/users/bob"

	err, local := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	follow := map[string]interface{}{
		"id":     "https://remote.example/activities/follow-1",
		"type":   "Follow",
		"actor":  remoteActorURI,
		"object": local.ActorURI,
	}

	w := env.post(t, follow, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	err, count := env.db.CountFollowers(local.Id)
	if err != nil || count != 1 {
		t.Errorf("Expected 1 follower, got %d (%v)", count, err)
	}

	// Accept queued for the follower's inbox
	err, due := env.db.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if len(*due) != 1 {
		t.Fatalf("Expected 1 queued Accept, got %d", len(*due))
	}
	if (*due)[0].TargetInbox != remoteActorURI+"/inbox" {
		t.Errorf("Accept addressed to %s", (*due)[0].TargetInbox)
	}

	// Redelivery: still one edge
	w = env.post(t, follow, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 on redelivery, got %d", w.Code)
	}
	err, count = env.db.CountFollowers(local.Id)
	if err != nil || count != 1 {
		t.Errorf("Redelivered follow must not duplicate the edge, got %d (%v)", count, err)
	}
}

func TestInboxFollowDisabledActorNoEdge(t *testing.T) {
	env := newInboxEnv(t)
	remote := newRemoteServer(t, "bob")

	err, local := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	env.directory.SetEnabled(local, false)

	w := env.post(t, map[string]interface{}{
		"id":     "https://remote.example/activities/follow-1",
		"type":   "Follow",
		"actor":  remote.URL + "/users/bob",
		"object": local.ActorURI,
	}, nil)

	// Still 202: processing failures are invisible to the sender
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}

	err, count := env.db.CountFollowers(local.Id)
	if err != nil || count != 0 {
		t.Errorf("Disabled actor must not gain followers, got %d (%v)", count, err)
	}
}

func TestInboxUndoFollowRemovesEdge(t *testing.T) {
	env := newInboxEnv(t)

	err, local := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	remoteURI := "https://remote.example/users/bob"
	env.db.CreateFollower(&domain.Follower{
		Id:             uuid.New(),
		ActorId:        local.Id,
		RemoteActorURI: remoteURI,
		InboxURI:       remoteURI + "/inbox",
		AcceptedAt:     time.Now(),
	})

	undo := map[string]interface{}{
		"id":    "https://remote.example/activities/undo-1",
		"type":  "Undo",
		"actor": remoteURI,
		"object": map[string]interface{}{
			"id":     "https://remote.example/activities/follow-1",
			"type":   "Follow",
			"actor":  remoteURI,
			"object": local.ActorURI,
		},
	}

	w := env.post(t, undo, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	err, count := env.db.CountFollowers(local.Id)
	if err != nil || count != 0 {
		t.Errorf("Expected follower removed, got %d (%v)", count, err)
	}

	// Undo of a follow that never happened is a no-op
	w = env.post(t, undo, nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 on repeated undo, got %d", w.Code)
	}
}

func TestInboxDeleteActorCascades(t *testing.T) {
	env := newInboxEnv(t)

	err, alice := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	err, group := env.directory.Ensure(domain.KindGroup, "golang")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	remoteURI := "https://remote.example/users/bob"
	for _, local := range []*domain.Actor{alice, group} {
		env.db.CreateFollower(&domain.Follower{
			Id:             uuid.New(),
			ActorId:        local.Id,
			RemoteActorURI: remoteURI,
			InboxURI:       remoteURI + "/inbox",
			AcceptedAt:     time.Now(),
		})
	}

	w := env.post(t, map[string]interface{}{
		"id":     "https://remote.example/activities/delete-1",
		"type":   "Delete",
		"actor":  remoteURI,
		"object": remoteURI,
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	for _, local := range []*domain.Actor{alice, group} {
		err, count := env.db.CountFollowers(local.Id)
		if err != nil || count != 0 {
			t.Errorf("Expected cascade for %s, got %d (%v)", local.Username, count, err)
		}
	}
}

func TestInboxLikeOnEligiblePost(t *testing.T) {
	env := newInboxEnv(t)

	user := seedUser(t, env.db, "alice")
	sub := seedSub(t, env.db, "golang")
	post := seedPost(t, env.db, user, sub, "hello")
	env.gate.SetUserFederation(user, true)
	env.gate.SetPostFederation(post, true)

	noteURI := fmt.Sprintf("https://local.example/notes/%s", post.Id)
	like := map[string]interface{}{
		"id":     "https://remote.example/activities/like-1",
		"type":   "Like",
		"actor":  "https://remote.example/users/bob",
		"object": noteURI,
	}

	w := env.post(t, like, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	err, count := env.db.CountPostLikes(post.Id)
	if err != nil || count != 1 {
		t.Errorf("Expected 1 like, got %d (%v)", count, err)
	}

	// Same actor, redelivered activity: still one like
	env.post(t, like, nil)
	err, count = env.db.CountPostLikes(post.Id)
	if err != nil || count != 1 {
		t.Errorf("Redelivered like must not double-count, got %d (%v)", count, err)
	}
}

func TestInboxLikeOnNonFederatingPostDropped(t *testing.T) {
	env := newInboxEnv(t)

	user := seedUser(t, env.db, "alice")
	sub := seedSub(t, env.db, "golang")
	post := seedPost(t, env.db, user, sub, "hello")
	// No opt-in anywhere

	w := env.post(t, map[string]interface{}{
		"id":     "https://remote.example/activities/like-1",
		"type":   "Like",
		"actor":  "https://remote.example/users/bob",
		"object": fmt.Sprintf("https://local.example/notes/%s", post.Id),
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	err, count := env.db.CountPostLikes(post.Id)
	if err != nil || count != 0 {
		t.Errorf("Like on non-federating post must be dropped, got %d (%v)", count, err)
	}
}

func TestInboxAnnounceAndUndo(t *testing.T) {
	env := newInboxEnv(t)

	user := seedUser(t, env.db, "alice")
	sub := seedSub(t, env.db, "golang")
	post := seedPost(t, env.db, user, sub, "hello")
	env.gate.SetUserFederation(user, true)
	env.gate.SetPostFederation(post, true)

	remoteURI := "https://remote.example/users/bob"
	announceURI := "https://remote.example/activities/announce-1"

	env.post(t, map[string]interface{}{
		"id":     announceURI,
		"type":   "Announce",
		"actor":  remoteURI,
		"object": fmt.Sprintf("https://local.example/notes/%s", post.Id),
	}, nil)

	err, count := env.db.CountPostAnnounces(post.Id)
	if err != nil || count != 1 {
		t.Fatalf("Expected 1 announce, got %d (%v)", count, err)
	}

	env.post(t, map[string]interface{}{
		"id":    "https://remote.example/activities/undo-1",
		"type":  "Undo",
		"actor": remoteURI,
		"object": map[string]interface{}{
			"id":    announceURI,
			"type":  "Announce",
			"actor": remoteURI,
		},
	}, nil)

	err, count = env.db.CountPostAnnounces(post.Id)
	if err != nil || count != 0 {
		t.Errorf("Expected announce undone, got %d (%v)", count, err)
	}
}

func TestInboxRecordsActivities(t *testing.T) {
	env := newInboxEnv(t)

	activityURI := "https://remote.example/activities/1"
	env.post(t, map[string]interface{}{
		"id":    activityURI,
		"type":  "Question",
		"actor": "https://remote.example/users/bob",
	}, nil)

	err, stored := env.db.ReadActivityByURI(activityURI)
	if err != nil {
		t.Fatalf("Expected activity recorded: %v", err)
	}
	if stored.ActivityType != "Question" {
		t.Errorf("Unexpected recorded type: %s", stored.ActivityType)
	}
}
