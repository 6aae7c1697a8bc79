package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// Activity is the generic inbound envelope.
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// ObjectURI extracts the object reference whether the object is a bare URI
// or an embedded object.
func (a *Activity) ObjectURI() string {
	switch obj := a.Object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

// PostImporter is the collaborator that turns inbound Create activities
// into local content. Importing is out of scope here; the default
// implementation only logs.
type PostImporter interface {
	Import(raw []byte, target *domain.Actor) error
}

// LoggingImporter drops inbound Create activities after logging them.
type LoggingImporter struct{}

func (LoggingImporter) Import(raw []byte, target *domain.Actor) error {
	var activity Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return err
	}
	log.Printf("Inbox: Create %s from %s handed to importer (no-op)", activity.ID, activity.Actor)
	return nil
}

// Inbox processes inbound activities. Every transition is idempotent:
// re-receiving the same activity is a no-op, and unsupported types are
// accepted and dropped so other servers can evolve their vocabularies.
type Inbox struct {
	db       *db.DB
	conf     *util.AppConfig
	remotes  *RemoteActors
	outbox   *Outbox
	gate     *Gate
	importer PostImporter
}

func NewInbox(database *db.DB, conf *util.AppConfig, remotes *RemoteActors, outbox *Outbox, gate *Gate, importer PostImporter) *Inbox {
	if importer == nil {
		importer = LoggingImporter{}
	}
	return &Inbox{db: database, conf: conf, remotes: remotes, outbox: outbox, gate: gate, importer: importer}
}

// HandleInbox is the POST handler body shared by the instance, user and
// group inboxes. target may be nil for the shared inbox; Follow resolves
// its own target from the activity object.
func (i *Inbox) HandleInbox(w http.ResponseWriter, r *http.Request, target *domain.Actor) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, `{"error":"invalid activity"}`, http.StatusBadRequest)
		return
	}
	if activity.Type == "" || activity.Actor == "" {
		http.Error(w, `{"error":"missing required field"}`, http.StatusBadRequest)
		return
	}

	// Blocked instances get a silent 202: no signal to the operator.
	actorDomain, err := util.ExtractDomain(activity.Actor)
	if err != nil {
		http.Error(w, `{"error":"invalid actor"}`, http.StatusBadRequest)
		return
	}
	if err, blocked := i.db.IsInstanceBlocked(actorDomain); err == nil && blocked {
		log.Printf("Inbox: Dropping %s from blocked instance %s", activity.Type, actorDomain)
		accepted(w)
		return
	}

	// The enforcement flag is the single switch deciding whether an
	// invalid signature rejects the request or is only logged.
	result := VerifyRequest(r, body, i.remotes.ResolveKey)
	if !result.Valid {
		log.Printf("Inbox: Signature verification failed (%s) for %s from %s: %v",
			result.Reason, activity.ID, activity.Actor, result.Err)
		if i.conf.Conf.EnforceSignatures {
			http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
			return
		}
	}

	i.record(&activity, body)

	if err := i.dispatch(&activity, body, target); err != nil {
		// Processing errors after the signature gate still answer 202;
		// the remote side will retry and our transitions are idempotent.
		log.Printf("Inbox: Failed to process %s %s: %v", activity.Type, activity.ID, err)
	}

	accepted(w)
}

func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"ok"}`))
}

// record logs the activity for deduplication and debugging. Duplicate
// activity URIs are ignored.
func (i *Inbox) record(activity *Activity, body []byte) {
	if activity.ID == "" {
		return
	}
	err := i.db.CreateActivity(&domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    activity.ObjectURI(),
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	})
	if err != nil {
		log.Printf("Inbox: Failed to record activity %s: %v", activity.ID, err)
	}
}

func (i *Inbox) dispatch(activity *Activity, body []byte, target *domain.Actor) error {
	switch activity.Type {
	case "Follow":
		return i.handleFollow(activity, target)
	case "Undo":
		return i.handleUndo(body)
	case "Delete":
		return i.handleDelete(activity)
	case "Like":
		return i.handleLike(activity)
	case "Announce":
		return i.handleAnnounce(activity)
	case "Create":
		return i.importer.Import(body, target)
	default:
		// Forward compatibility: unknown types are accepted and dropped.
		log.Printf("Inbox: Ignoring unsupported activity type %s from %s", activity.Type, activity.Actor)
		return nil
	}
}

// handleFollow creates the follower edge and queues an Accept. The UNIQUE
// constraint on (actor, remote URI) makes duplicates no-ops.
func (i *Inbox) handleFollow(activity *Activity, target *domain.Actor) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("Follow has no object")
	}

	local := target
	if local == nil || local.ActorURI != objectURI {
		err, resolved := i.db.ReadActorByURI(objectURI)
		if err != nil || resolved == nil {
			return fmt.Errorf("follow target %s not found", objectURI)
		}
		local = resolved
	}
	if !local.Enabled {
		return fmt.Errorf("follow target %s is disabled", objectURI)
	}

	remote, err := i.remotes.GetOrFetch(activity.Actor)
	if err != nil {
		return fmt.Errorf("failed to fetch follower actor: %w", err)
	}

	if err := i.db.CreateFollower(&domain.Follower{
		Id:             uuid.New(),
		ActorId:        local.Id,
		RemoteActorURI: remote.ActorURI,
		InboxURI:       remote.InboxURI,
		AcceptedAt:     time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to create follower: %w", err)
	}

	if err := i.outbox.SendAccept(local, remote, activity.ID); err != nil {
		return fmt.Errorf("failed to queue Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow of %s by %s", local.ActorURI, remote.ActorURI)
	return nil
}

// handleUndo reverses a previous Follow, Like or Announce. Undoing
// something that never happened (or was already undone) is a no-op.
func (i *Inbox) handleUndo(body []byte) error {
	var undo struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &undo); err != nil {
		return fmt.Errorf("failed to parse Undo activity: %w", err)
	}

	var obj struct {
		Type   string      `json:"type"`
		ID     string      `json:"id"`
		Actor  string      `json:"actor"`
		Object interface{} `json:"object"`
	}
	if err := json.Unmarshal(undo.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	switch obj.Type {
	case "Follow":
		targetURI, _ := obj.Object.(string)
		if targetURI == "" {
			return nil
		}
		err, local := i.db.ReadActorByURI(targetURI)
		if err != nil || local == nil {
			return nil
		}
		if err := i.db.DeleteFollower(local.Id, undo.Actor); err != nil {
			return fmt.Errorf("failed to delete follower: %w", err)
		}
		log.Printf("Inbox: Removed follow of %s by %s", targetURI, undo.Actor)

	case "Like":
		return i.undoInteraction(obj.ID, obj.Object, undo.Actor, true)

	case "Announce":
		return i.undoInteraction(obj.ID, obj.Object, undo.Actor, false)

	default:
		log.Printf("Inbox: Ignoring Undo of %s", obj.Type)
	}

	return nil
}

func (i *Inbox) undoInteraction(activityURI string, object interface{}, remoteActor string, like bool) error {
	// Prefer the embedded activity URI; fall back to (post, actor).
	if activityURI != "" {
		if like {
			return i.db.DeletePostLikeByActivityURI(activityURI)
		}
		return i.db.DeletePostAnnounceByActivityURI(activityURI)
	}

	objectURI, _ := object.(string)
	postId, ok := i.postIdFromURI(objectURI)
	if !ok {
		return nil
	}
	if like {
		return i.db.DeletePostLike(postId, remoteActor)
	}
	return i.db.DeletePostAnnounce(postId, remoteActor)
}

// handleDelete cascades a remote actor's self-deletion: every follower
// edge where that actor is the follower disappears, along with the cache
// entry. Deletes of unknown objects are no-ops.
func (i *Inbox) handleDelete(activity *Activity) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("could not determine object URI from Delete activity")
	}

	if objectURI == activity.Actor {
		if err := i.db.DeleteFollowersByRemoteURI(objectURI); err != nil {
			return fmt.Errorf("failed to cascade actor delete: %w", err)
		}
		if err := i.remotes.Evict(objectURI); err != nil {
			log.Printf("Inbox: Failed to evict deleted actor %s: %v", objectURI, err)
		}
		log.Printf("Inbox: Removed actor %s and all follower edges", objectURI)
		return nil
	}

	log.Printf("Inbox: Ignoring Delete of remote object %s", objectURI)
	return nil
}

// handleLike registers an external like on a federation-eligible post.
func (i *Inbox) handleLike(activity *Activity) error {
	post, err := i.eligiblePost(activity.ObjectURI())
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	return i.db.CreatePostLike(&domain.PostLike{
		Id:             uuid.New(),
		PostId:         post.Id,
		RemoteActorURI: activity.Actor,
		ActivityURI:    activity.ID,
		CreatedAt:      time.Now(),
	})
}

// handleAnnounce registers an external boost on a federation-eligible post.
func (i *Inbox) handleAnnounce(activity *Activity) error {
	post, err := i.eligiblePost(activity.ObjectURI())
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	return i.db.CreatePostAnnounce(&domain.PostAnnounce{
		Id:             uuid.New(),
		PostId:         post.Id,
		RemoteActorURI: activity.Actor,
		ActivityURI:    activity.ID,
		CreatedAt:      time.Now(),
	})
}

// eligiblePost resolves a local post from an object URI and checks the
// gate. A nil post with nil error means "silently drop".
func (i *Inbox) eligiblePost(objectURI string) (*domain.Post, error) {
	postId, ok := i.postIdFromURI(objectURI)
	if !ok {
		return nil, nil
	}

	err, post := i.db.ReadPostById(postId)
	if err != nil || post == nil {
		return nil, nil
	}

	err, eligible := i.gate.CanFederate(post)
	if err != nil {
		return nil, err
	}
	if !eligible {
		log.Printf("Inbox: Dropping interaction with non-federating post %s", post.Id)
		return nil, nil
	}

	return post, nil
}

// postIdFromURI extracts a local post id from a note/post/activity URI on
// our own domain.
func (i *Inbox) postIdFromURI(uri string) (uuid.UUID, bool) {
	if uri == "" {
		return uuid.Nil, false
	}

	host, err := util.ExtractDomain(uri)
	if err != nil {
		return uuid.Nil, false
	}
	if host != i.conf.Conf.Domain && host != i.conf.ApiDomainOrDefault() {
		return uuid.Nil, false
	}

	parts := strings.Split(strings.TrimSuffix(uri, "/"), "/")
	if len(parts) < 2 {
		return uuid.Nil, false
	}
	kind := parts[len(parts)-2]
	if kind != "notes" && kind != "posts" && kind != "activities" {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(parts[len(parts)-1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
