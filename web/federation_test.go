package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

func seedFollower(t *testing.T, server *Server, actorId uuid.UUID) string {
	t.Helper()
	inbox := "https://remote.example/users/bob/inbox"
	if err := server.db.CreateFollower(&domain.Follower{
		Id:             uuid.New(),
		ActorId:        actorId,
		RemoteActorURI: "https://remote.example/users/bob",
		InboxURI:       inbox,
		AcceptedAt:     time.Now(),
	}); err != nil {
		t.Fatalf("CreateFollower failed: %v", err)
	}
	return inbox
}

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

func TestAdminFederatePostFansOutToFollowers(t *testing.T) {
	server, database, directory, _ := newTestServer(t)
	router := server.Router()

	_, post := seedFederatedPost(t, server)
	err, actor := directory.Resolve(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	inbox := seedFollower(t, server, actor.Id)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("POST", "/api/posts/"+post.Id.String()+"/federate"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	err, due := database.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if due == nil || len(*due) != 1 {
		t.Fatalf("Expected 1 queued delivery, got %v", due)
	}
	d := (*due)[0]
	if d.TargetInbox != inbox {
		t.Errorf("Expected delivery to %s, got %s", inbox, d.TargetInbox)
	}
	if !strings.Contains(d.ActivityJSON, `"Create"`) {
		t.Errorf("Expected a Create payload, got %s", d.ActivityJSON)
	}

	err, settings := database.ReadOrCreatePostSettings(post.Id)
	if err != nil || settings.NoteURI == "" {
		t.Errorf("Expected note URI recorded after federation (%v)", err)
	}
}

func TestAdminFederatePostIneligible(t *testing.T) {
	server, database, _, gate := newTestServer(t)
	router := server.Router()

	user := &domain.User{Id: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	server.db.CreateUser(user)
	gate.SetUserFederation(user, true)

	// Published but never opted in
	post := &domain.Post{
		Id: uuid.New(), AuthorId: user.Id, Author: "alice",
		Title: "private", Published: true, CreatedAt: time.Now(),
	}
	server.db.CreatePost(post)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("POST", "/api/posts/"+post.Id.String()+"/federate"))
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for opted-out post, got %d", w.Code)
	}

	err, due := database.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if due != nil && len(*due) != 0 {
		t.Error("Ineligible post must not queue deliveries")
	}
}

func TestAdminAnnouncePost(t *testing.T) {
	server, database, directory, gate := newTestServer(t)
	router := server.Router()

	_, post := seedFederatedPost(t, server)

	sub := &domain.Sub{Id: uuid.New(), Name: "golang", Title: "Go", CreatedAt: time.Now()}
	if err := database.CreateSub(sub); err != nil {
		t.Fatalf("CreateSub failed: %v", err)
	}
	if err, _ := gate.SetSubFederation(sub, true, false, false); err != nil {
		t.Fatalf("SetSubFederation failed: %v", err)
	}

	err, groupActor := directory.Resolve(domain.KindGroup, "golang")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	seedFollower(t, server, groupActor.Id)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("POST", "/api/subs/golang/announce/"+post.Id.String()))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	err, due := database.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if due == nil || len(*due) != 1 {
		t.Fatalf("Expected 1 queued delivery, got %v", due)
	}
	d := (*due)[0]
	if d.ActorId != groupActor.Id {
		t.Errorf("Announce must be signed by the group actor")
	}
	if !strings.Contains(d.ActivityJSON, `"Announce"`) {
		t.Errorf("Expected an Announce payload, got %s", d.ActivityJSON)
	}
}

func TestAdminAnnounceRequiresSubFederation(t *testing.T) {
	server, database, _, _ := newTestServer(t)
	router := server.Router()

	_, post := seedFederatedPost(t, server)
	sub := &domain.Sub{Id: uuid.New(), Name: "quiet", CreatedAt: time.Now()}
	database.CreateSub(sub)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("POST", "/api/subs/quiet/announce/"+post.Id.String()))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for non-federating sub, got %d", w.Code)
	}
}

func TestAdminRetractPost(t *testing.T) {
	server, database, directory, _ := newTestServer(t)
	router := server.Router()

	_, post := seedFederatedPost(t, server)
	err, actor := directory.Resolve(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	seedFollower(t, server, actor.Id)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("POST", "/api/posts/"+post.Id.String()+"/federate"))
	if w.Code != http.StatusOK {
		t.Fatalf("Federate failed: %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest("DELETE", "/api/posts/"+post.Id.String()))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	err, stored := database.ReadPostById(post.Id)
	if err != nil || !stored.Deleted {
		t.Errorf("Expected post marked deleted (%v)", err)
	}

	// The undelivered Create is cancelled; only the Tombstone stays pending.
	err, due := database.ReadDueDeliveries(10)
	if err != nil {
		t.Fatalf("ReadDueDeliveries failed: %v", err)
	}
	if due == nil || len(*due) != 1 {
		t.Fatalf("Expected only the Delete pending, got %v", due)
	}
	if !strings.Contains((*due)[0].ActivityJSON, `"Tombstone"`) {
		t.Errorf("Expected a Tombstone payload, got %s", (*due)[0].ActivityJSON)
	}

	err, stats := database.ReadDeliveryStats()
	if err != nil {
		t.Fatalf("ReadDeliveryStats failed: %v", err)
	}
	if stats[string(domain.DeliveryDead)] != 1 {
		t.Errorf("Expected the retracted Create counted dead, got %v", stats)
	}
}
