package activitypub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 30 * time.Minute},
		{4, 2 * time.Hour},
		{5, 2 * time.Hour}, // schedule caps at the last step
	}
	for _, c := range cases {
		if got := BackoffFor(c.attempt); got != c.want {
			t.Errorf("BackoffFor(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{0, true},    // network error
		{429, true},  // rate limited
		{500, true},  // server error
		{503, true},  // unavailable
		{400, false}, // our payload is broken, retrying won't help
		{403, false},
		{404, false},
		{410, false},
	}
	for _, c := range cases {
		if got := transient(c.status); got != c.want {
			t.Errorf("transient(%d) = %v, want %v", c.status, got, c.want)
		}
	}
}

func enqueueTestDelivery(t *testing.T, env *inboxEnv, actorId uuid.UUID, inbox string) *domain.DeliveryLog {
	t.Helper()
	d := &domain.DeliveryLog{
		Id:           uuid.New(),
		ActivityId:   "https://local.example/activities/" + uuid.New().String(),
		ActivityJSON: `{"type":"Create"}`,
		TargetInbox:  inbox,
		ActorId:      actorId,
		Status:       domain.DeliveryPending,
		NextRetryAt:  time.Now().Add(-time.Second),
		CreatedAt:    time.Now(),
	}
	if err := env.db.EnqueueDelivery(d); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	return d
}

func TestDeliverSuccess(t *testing.T) {
	env := newInboxEnv(t)
	worker := NewDeliveryWorker(env.db, env.conf)

	var gotSignature, gotDigest string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("Signature")
		gotDigest = r.Header.Get("Digest")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")
	worker.Deliver(d)

	err, stored := env.db.ReadDeliveryById(d.Id)
	if err != nil {
		t.Fatalf("ReadDeliveryById failed: %v", err)
	}
	if stored.Status != domain.DeliveryDelivered {
		t.Errorf("Expected delivered, got %s (%s)", stored.Status, stored.LastError)
	}
	if stored.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", stored.Attempts)
	}
	if gotSignature == "" {
		t.Error("Outbound request must carry a Signature header")
	}
	if gotDigest == "" {
		t.Error("Outbound request must carry a Digest header")
	}
}

func TestDeliverTransientFailureSchedulesRetry(t *testing.T) {
	env := newInboxEnv(t)
	worker := NewDeliveryWorker(env.db, env.conf)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")
	worker.Deliver(d)

	err, stored := env.db.ReadDeliveryById(d.Id)
	if err != nil {
		t.Fatalf("ReadDeliveryById failed: %v", err)
	}
	if stored.Status != domain.DeliveryPending {
		t.Errorf("Expected still pending, got %s", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", stored.Attempts)
	}
	if !stored.NextRetryAt.After(time.Now()) {
		t.Error("Expected next retry scheduled in the future")
	}
	if stored.LastError == "" {
		t.Error("Expected last_error recorded")
	}
}

func TestDeliverPermanentFailure(t *testing.T) {
	env := newInboxEnv(t)
	worker := NewDeliveryWorker(env.db, env.conf)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")
	worker.Deliver(d)

	err, stored := env.db.ReadDeliveryById(d.Id)
	if err != nil {
		t.Fatalf("ReadDeliveryById failed: %v", err)
	}
	if stored.Status != domain.DeliveryFailed {
		t.Errorf("Expected failed, got %s", stored.Status)
	}
}

func TestDeliverDeadAfterMaxAttempts(t *testing.T) {
	env := newInboxEnv(t)
	env.conf.Conf.Delivery.MaxAttempts = 3
	worker := NewDeliveryWorker(env.db, env.conf)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")
	d.Attempts = 2 // two failures already behind it
	worker.Deliver(d)

	err, stored := env.db.ReadDeliveryById(d.Id)
	if err != nil {
		t.Fatalf("ReadDeliveryById failed: %v", err)
	}
	if stored.Status != domain.DeliveryDead {
		t.Errorf("Expected dead after max attempts, got %s", stored.Status)
	}
}

func TestDeliverSkipsBlockedInstance(t *testing.T) {
	env := newInboxEnv(t)
	worker := NewDeliveryWorker(env.db, env.conf)

	delivered := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")

	// Domain blocked after enqueue
	serverHost := server.URL[len("http://"):]
	env.db.CreateBlockedInstance(&domain.BlockedInstance{
		Domain: serverHost, Reason: "blocked late", Active: true, CreatedAt: time.Now(),
	})

	worker.Deliver(d)

	if delivered {
		t.Error("Blocked instance must not receive the payload")
	}
	err, stored := env.db.ReadDeliveryById(d.Id)
	if err != nil || stored.Status != domain.DeliveryDead {
		t.Errorf("Expected dead, got %v (%v)", stored, err)
	}
}

func TestRunOnceSkipsInFlightDestination(t *testing.T) {
	env := newInboxEnv(t)
	worker := NewDeliveryWorker(env.db, env.conf)

	// The handler blocks until released, keeping the row pending and its
	// destination in flight across the second poll.
	received := make(chan struct{}, 4)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err, actor := env.directory.Ensure(domain.KindUser, "alice")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	d := enqueueTestDelivery(t, env, actor.Id, server.URL+"/inbox")

	ctx := context.Background()
	worker.runOnce(ctx)

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("Delivery never reached the server")
	}

	// Second poll while the POST is still in flight and the row is still
	// pending; the busy destination must be skipped, not re-delivered.
	worker.runOnce(ctx)
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		err, stored := env.db.ReadDeliveryById(d.Id)
		if err == nil && stored.Status == domain.DeliveryDelivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Delivery never settled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(received) != 0 {
		t.Error("In-flight destination was delivered twice")
	}
}

func TestDestinationKeyGroupsByActorAndHost(t *testing.T) {
	actorId := uuid.New()

	a := &domain.DeliveryLog{ActorId: actorId, TargetInbox: "https://one.example/users/a/inbox"}
	b := &domain.DeliveryLog{ActorId: actorId, TargetInbox: "https://one.example/users/b/inbox"}
	c := &domain.DeliveryLog{ActorId: actorId, TargetInbox: "https://two.example/users/a/inbox"}

	if a.DestinationKey() != b.DestinationKey() {
		t.Error("Same actor and host must share a destination key")
	}
	if a.DestinationKey() == c.DestinationKey() {
		t.Error("Different hosts must not share a destination key")
	}

	d := &domain.DeliveryLog{ActorId: uuid.New(), TargetInbox: "https://one.example/users/a/inbox"}
	if a.DestinationKey() == d.DestinationKey() {
		t.Error("Different local actors must not share a destination key")
	}
}
