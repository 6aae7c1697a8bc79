package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// actorResponse is the subset of a remote actor document needed for
// signature verification and delivery.
type actorResponse struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Inbox             string `json:"inbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// RemoteActors is the time-bounded get-or-fetch cache over the
// remote_actors table. Entries are not authoritative and are re-fetched
// after the TTL.
type RemoteActors struct {
	db     *db.DB
	ttl    time.Duration
	client *http.Client
}

func NewRemoteActors(database *db.DB, conf *util.AppConfig) *RemoteActors {
	return &RemoteActors{
		db:  database,
		ttl: time.Duration(conf.Conf.RemoteActorTtlHours) * time.Hour,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetOrFetch returns the cached actor if fresh, fetching otherwise.
func (r *RemoteActors) GetOrFetch(actorURI string) (*domain.RemoteActor, error) {
	err, cached := r.db.ReadRemoteActorByURI(actorURI)
	if err == nil && cached != nil {
		if time.Since(cached.LastFetchedAt) < r.ttl {
			return cached, nil
		}
	}

	return r.Fetch(actorURI)
}

// Fetch dereferences an actor document over HTTPS and refreshes the cache.
func (r *RemoteActors) Fetch(actorURI string) (*domain.RemoteActor, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor actorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := util.ExtractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remote := &domain.RemoteActor{
		Id:            uuid.New(),
		Username:      actor.PreferredUsername,
		Domain:        domainName,
		ActorURI:      actor.ID,
		InboxURI:      actor.Inbox,
		PublicKeyPem:  actor.PublicKey.PublicKeyPem,
		LastFetchedAt: time.Now(),
	}

	if err := r.db.CreateRemoteActor(remote); err != nil {
		// Already cached, refresh instead
		if err := r.db.UpdateRemoteActor(remote); err != nil {
			return nil, fmt.Errorf("failed to store remote actor: %w", err)
		}
	}

	return remote, nil
}

// ResolveKey is the KeyResolver used by signature verification: it maps a
// keyId to the owning actor's cached public key.
func (r *RemoteActors) ResolveKey(keyId string) (string, error) {
	actorURI := ActorURIFromKeyId(keyId)
	actor, err := r.GetOrFetch(actorURI)
	if err != nil {
		return "", err
	}
	return actor.PublicKeyPem, nil
}

// Evict drops a cache entry, used when a remote actor announces deletion.
func (r *RemoteActors) Evict(actorURI string) error {
	return r.db.DeleteRemoteActor(actorURI)
}
