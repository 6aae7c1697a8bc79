package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// Outbox builds outgoing activities and fans them out into the delivery
// log. The payload is serialized once; signing happens per destination in
// the delivery worker because Digest/Signature headers are host- and
// date-specific.
type Outbox struct {
	db          *db.DB
	conf        *util.AppConfig
	collections *Collections
}

func NewOutbox(database *db.DB, conf *util.AppConfig, collections *Collections) *Outbox {
	return &Outbox{db: database, conf: conf, collections: collections}
}

// enqueue records one pending delivery unless the destination domain is
// blocked. Blocked domains are skipped silently.
func (o *Outbox) enqueue(actor *domain.Actor, inboxURI, activityId, activityJSON string) error {
	targetDomain, err := util.ExtractDomain(inboxURI)
	if err != nil {
		return fmt.Errorf("invalid inbox URI %s: %w", inboxURI, err)
	}

	err, blocked := o.db.IsInstanceBlocked(targetDomain)
	if err != nil {
		return err
	}
	if blocked {
		log.Printf("Outbox: Skipping delivery to blocked instance %s", targetDomain)
		return nil
	}

	return o.db.EnqueueDelivery(&domain.DeliveryLog{
		Id:           uuid.New(),
		ActivityId:   activityId,
		ActivityJSON: activityJSON,
		TargetInbox:  inboxURI,
		ActorId:      actor.Id,
		Status:       domain.DeliveryPending,
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	})
}

// fanOut enqueues one delivery per follower inbox.
func (o *Outbox) fanOut(actor *domain.Actor, activityId, activityJSON string) error {
	err, followers := o.db.ReadFollowersByActorId(actor.Id)
	if err != nil {
		return fmt.Errorf("failed to read followers: %w", err)
	}

	if followers == nil || len(*followers) == 0 {
		log.Printf("Outbox: No followers to deliver %s to", activityId)
		return nil
	}

	queued := 0
	for _, follower := range *followers {
		if err := o.enqueue(actor, follower.InboxURI, activityId, activityJSON); err != nil {
			log.Printf("Outbox: Failed to queue delivery to %s: %v", follower.InboxURI, err)
			continue
		}
		queued++
	}

	log.Printf("Outbox: Queued %s to %d followers", activityId, queued)
	return nil
}

// SendAccept queues an Accept for a just-processed Follow.
func (o *Outbox) SendAccept(local *domain.Actor, remote *domain.RemoteActor, followActivityId string) error {
	acceptId := fmt.Sprintf("https://%s/activities/%s", o.conf.Conf.Domain, uuid.New().String())

	accept := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       acceptId,
		"type":     "Accept",
		"actor":    local.ActorURI,
		"object": map[string]interface{}{
			"id":     followActivityId,
			"type":   "Follow",
			"actor":  remote.ActorURI,
			"object": local.ActorURI,
		},
	}

	payload, err := json.Marshal(accept)
	if err != nil {
		return fmt.Errorf("failed to marshal Accept: %w", err)
	}

	return o.enqueue(local, remote.InboxURI, acceptId, string(payload))
}

// DeliverCreate federates an eligible post to the author actor's followers.
// Returns the activity id so the caller can retract it later.
func (o *Outbox) DeliverCreate(actor *domain.Actor, post *domain.Post) (string, error) {
	create, err := o.collections.BuildCreateActivity(actor, post)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(create)
	if err != nil {
		return "", fmt.Errorf("failed to marshal Create: %w", err)
	}

	if err := o.fanOut(actor, create.ID, string(payload)); err != nil {
		return "", err
	}

	// Remember the note URI so the settings surface can report it.
	err, settings := o.db.ReadOrCreatePostSettings(post.Id)
	if err == nil && settings != nil {
		settings.NoteURI = create.Object.ID
		now := time.Now()
		settings.FederatedAt = &now
		if err := o.db.UpdatePostSettings(settings); err != nil {
			log.Printf("Outbox: Failed to record note URI for post %s: %v", post.Id, err)
		}
	}

	return create.ID, nil
}

// DeliverAnnounce federates a sub's boost of an eligible post to the group
// actor's followers.
func (o *Outbox) DeliverAnnounce(groupActor *domain.Actor, post *domain.Post) (string, error) {
	note, err := o.collections.BuildNote(post)
	if err != nil {
		return "", err
	}

	announceId := fmt.Sprintf("https://%s/activities/%s", o.conf.Conf.Domain, uuid.New().String())
	announce := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       announceId,
		"type":     "Announce",
		"actor":    groupActor.ActorURI,
		"object":   note.ID,
		"to": []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
		"cc": []string{
			groupActor.FollowersURI(),
		},
	}

	payload, err := json.Marshal(announce)
	if err != nil {
		return "", fmt.Errorf("failed to marshal Announce: %w", err)
	}

	if err := o.fanOut(groupActor, announceId, string(payload)); err != nil {
		return "", err
	}
	return announceId, nil
}

// DeliverDelete federates a Tombstone for a retracted note.
func (o *Outbox) DeliverDelete(actor *domain.Actor, noteURI string) (string, error) {
	deleteId := fmt.Sprintf("https://%s/activities/%s", o.conf.Conf.Domain, uuid.New().String())
	activity := map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       deleteId,
		"type":     "Delete",
		"actor":    actor.ActorURI,
		"object": map[string]interface{}{
			"id":   noteURI,
			"type": "Tombstone",
		},
		"to": []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
	}

	payload, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal Delete: %w", err)
	}

	if err := o.fanOut(actor, deleteId, string(payload)); err != nil {
		return "", err
	}
	return deleteId, nil
}

// Retract cancels all still-pending deliveries of an activity, so retracted
// content never leaves the server.
func (o *Outbox) Retract(activityId string) error {
	return o.db.MarkDeliveriesDeadByActivity(activityId)
}
