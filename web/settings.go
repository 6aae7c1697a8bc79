package web

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/subverse/subverse/domain"
)

// The admin settings surface. All handlers sit behind AdminAuthMiddleware.

type userFederationRequest struct {
	Enabled bool `json:"enabled"`
}

type subFederationRequest struct {
	Enabled           bool `json:"enabled"`
	AutoAnnounce      bool `json:"autoAnnounce"`
	AcceptRemotePosts bool `json:"acceptRemotePosts"`
}

type postFederationRequest struct {
	ShouldFederate bool `json:"shouldFederate"`
}

type blockInstanceRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

// HandleSetUserFederation toggles a user's federation opt-in, provisioning
// the actor on first enable.
func (s *Server) HandleSetUserFederation(c *gin.Context) {
	var req userFederationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err, user := s.db.ReadUserByUsername(c.Param("username"))
	if err != nil || user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	err, settings := s.gate.SetUserFederation(user, req.Enabled)
	if err != nil {
		log.Printf("Settings: Failed to update user federation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username":          user.Username,
		"federationEnabled": settings.FederationEnabled,
		"enabledAt":         settings.EnabledAt,
	})
}

// HandleSetSubFederation toggles a sub's federation opt-in and its
// announce/accept flags.
func (s *Server) HandleSetSubFederation(c *gin.Context) {
	var req subFederationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err, sub := s.db.ReadSubByName(c.Param("sub"))
	if err != nil || sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sub not found"})
		return
	}

	err, settings := s.gate.SetSubFederation(sub, req.Enabled, req.AutoAnnounce, req.AcceptRemotePosts)
	if err != nil {
		log.Printf("Settings: Failed to update sub federation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sub":               sub.Name,
		"federationEnabled": settings.FederationEnabled,
		"autoAnnounce":      settings.AutoAnnounce,
		"acceptRemotePosts": settings.AcceptRemotePosts,
		"enabledAt":         settings.EnabledAt,
	})
}

// HandleSetPostFederation toggles a single post's opt-in flag.
func (s *Server) HandleSetPostFederation(c *gin.Context) {
	var req postFederationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	postId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	err, post := s.db.ReadPostById(postId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	err, settings := s.gate.SetPostFederation(post, req.ShouldFederate)
	if err != nil {
		log.Printf("Settings: Failed to update post federation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"postId":         post.Id,
		"shouldFederate": settings.ShouldFederate,
		"noteUri":        settings.NoteURI,
		"federatedAt":    settings.FederatedAt,
	})
}

// HandleFederatePost fans an eligible post's Create out to the author
// actor's followers.
func (s *Server) HandleFederatePost(c *gin.Context) {
	postId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	err, post := s.db.ReadPostById(postId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	err, eligible := s.gate.CanFederate(post)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}
	if !eligible {
		c.JSON(http.StatusConflict, gin.H{"error": "post is not eligible for federation"})
		return
	}

	err, actor := s.directory.Resolve(domain.KindUser, post.Author)
	if err != nil || actor == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "author has no actor"})
		return
	}

	activityId, err := s.outbox.DeliverCreate(actor, post)
	if err != nil {
		log.Printf("Settings: Failed to federate post %s: %v", post.Id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"postId": post.Id, "activityId": activityId})
}

// HandleAnnouncePost boosts an eligible post to the group actor's
// followers (moderator-initiated).
func (s *Server) HandleAnnouncePost(c *gin.Context) {
	err, sub := s.db.ReadSubByName(c.Param("sub"))
	if err != nil || sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sub not found"})
		return
	}

	postId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	err, post := s.db.ReadPostById(postId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	err, allowed := s.gate.CanAnnounce(sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}
	if !allowed {
		c.JSON(http.StatusConflict, gin.H{"error": "sub does not federate"})
		return
	}

	err, eligible := s.gate.CanFederate(post)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}
	if !eligible {
		c.JSON(http.StatusConflict, gin.H{"error": "post is not eligible for federation"})
		return
	}

	err, groupActor := s.directory.Resolve(domain.KindGroup, sub.Name)
	if err != nil || groupActor == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "sub has no actor"})
		return
	}

	activityId, err := s.outbox.DeliverAnnounce(groupActor, post)
	if err != nil {
		log.Printf("Settings: Failed to announce post %s: %v", post.Id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"postId": post.Id, "activityId": activityId})
}

// HandleRetractPost removes a post from federation: still-pending copies
// go dead, already-delivered ones get a Tombstone.
func (s *Server) HandleRetractPost(c *gin.Context) {
	postId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	err, post := s.db.ReadPostById(postId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	if err := s.db.MarkPostDeleted(post.Id); err != nil {
		log.Printf("Settings: Failed to delete post %s: %v", post.Id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete post"})
		return
	}

	if err := s.outbox.Retract(s.collections.CreateActivityURI(post)); err != nil {
		log.Printf("Settings: Failed to retract pending deliveries for %s: %v", post.Id, err)
	}

	// Tombstone only what was actually federated.
	err, settings := s.db.ReadOrCreatePostSettings(post.Id)
	if err == nil && settings.NoteURI != "" {
		err, actor := s.directory.Resolve(domain.KindUser, post.Author)
		if err == nil && actor != nil {
			if _, err := s.outbox.DeliverDelete(actor, settings.NoteURI); err != nil {
				log.Printf("Settings: Failed to queue Delete for %s: %v", post.Id, err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"postId": post.Id, "deleted": true})
}

// HandleBlockInstance adds or updates a domain block. Pending deliveries
// to the domain go dead the next time the worker sees them.
func (s *Server) HandleBlockInstance(c *gin.Context) {
	var req blockInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := s.db.CreateBlockedInstance(&domain.BlockedInstance{
		Domain:    req.Domain,
		Reason:    req.Reason,
		Active:    true,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("Settings: Failed to block instance %s: %v", req.Domain, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block instance"})
		return
	}

	log.Printf("Settings: Blocked instance %s", req.Domain)
	c.JSON(http.StatusOK, gin.H{"domain": req.Domain, "blocked": true})
}

// HandleRotateKey rotates a user actor's signing keypair.
func (s *Server) HandleRotateKey(c *gin.Context) {
	err, actor := s.directory.Resolve(domain.KindUser, c.Param("username"))
	if err == sql.ErrNoRows || actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "actor not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve actor"})
		return
	}

	if err := s.directory.RotateKey(actor); err != nil {
		log.Printf("Settings: Failed to rotate key for %s: %v", actor.ActorURI, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"actor": actor.ActorURI, "keyId": actor.KeyId()})
}

// HandleFederationStats reports delivery log counts by status.
func (s *Server) HandleFederationStats(c *gin.Context) {
	err, stats := s.db.ReadDeliveryStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": stats})
}
