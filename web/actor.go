package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/subverse/subverse/domain"
)

const activityJSONContentType = "application/activity+json; charset=utf-8"

// resolveActor resolves a local actor by kind and name. A miss and a
// disabled actor both look like 404 from outside.
func (s *Server) resolveActor(c *gin.Context, kind domain.ActorKind, name string) *domain.Actor {
	err, actor := s.directory.Resolve(kind, name)
	if err != nil || actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return nil
	}
	return actor
}

func (s *Server) serveActor(c *gin.Context, kind domain.ActorKind, name string) {
	c.Header("Content-Type", activityJSONContentType)

	actor := s.resolveActor(c, kind, name)
	if actor == nil {
		return
	}

	doc, err := s.collections.BuildActor(actor)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) serveOutbox(c *gin.Context, kind domain.ActorKind, name string) {
	c.Header("Content-Type", activityJSONContentType)

	actor := s.resolveActor(c, kind, name)
	if actor == nil {
		return
	}

	collection, err := s.collections.BuildOutbox(actor)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (s *Server) serveFollowers(c *gin.Context, kind domain.ActorKind, name string) {
	c.Header("Content-Type", activityJSONContentType)

	actor := s.resolveActor(c, kind, name)
	if actor == nil {
		return
	}

	collection, err := s.collections.BuildFollowers(actor)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (s *Server) serveInbox(c *gin.Context, kind domain.ActorKind, name string) {
	actor := s.resolveActor(c, kind, name)
	if actor == nil {
		return
	}
	s.inbox.HandleInbox(c.Writer, c.Request, actor)
}

func (s *Server) HandleInstanceActor(c *gin.Context) {
	s.serveActor(c, domain.KindInstance, "")
}

func (s *Server) HandleInstanceOutbox(c *gin.Context) {
	s.serveOutbox(c, domain.KindInstance, "")
}

func (s *Server) HandleInstanceFollowers(c *gin.Context) {
	s.serveFollowers(c, domain.KindInstance, "")
}

// HandleSharedInbox takes activities without a per-actor path. Follow
// resolves its own target from the activity object.
func (s *Server) HandleSharedInbox(c *gin.Context) {
	s.inbox.HandleInbox(c.Writer, c.Request, nil)
}

func (s *Server) HandleUserActor(c *gin.Context) {
	s.serveActor(c, domain.KindUser, c.Param("username"))
}

func (s *Server) HandleUserOutbox(c *gin.Context) {
	s.serveOutbox(c, domain.KindUser, c.Param("username"))
}

func (s *Server) HandleUserFollowers(c *gin.Context) {
	s.serveFollowers(c, domain.KindUser, c.Param("username"))
}

func (s *Server) HandleUserInbox(c *gin.Context) {
	s.serveInbox(c, domain.KindUser, c.Param("username"))
}

func (s *Server) HandleGroupActor(c *gin.Context) {
	s.serveActor(c, domain.KindGroup, c.Param("name"))
}

func (s *Server) HandleGroupOutbox(c *gin.Context) {
	s.serveOutbox(c, domain.KindGroup, c.Param("name"))
}

func (s *Server) HandleGroupFollowers(c *gin.Context) {
	s.serveFollowers(c, domain.KindGroup, c.Param("name"))
}

func (s *Server) HandleGroupInbox(c *gin.Context) {
	s.serveInbox(c, domain.KindGroup, c.Param("name"))
}

// HandleNote serves a post as an ActivityPub Note. Gate rejections answer
// 404, indistinguishable from a miss.
func (s *Server) HandleNote(c *gin.Context) {
	c.Header("Content-Type", activityJSONContentType)

	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}

	err, post := s.db.ReadPostById(noteId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}

	note, err := s.collections.BuildNote(post)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}
	c.JSON(http.StatusOK, note)
}

// HandleActivity serves the Create activity wrapping a federated post.
func (s *Server) HandleActivity(c *gin.Context) {
	c.Header("Content-Type", activityJSONContentType)

	postId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}

	err, post := s.db.ReadPostById(postId)
	if err != nil || post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}

	err, actor := s.directory.Resolve(domain.KindUser, post.Author)
	if err != nil || actor == nil || !actor.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}

	activity, buildErr := s.collections.BuildCreateActivity(actor, post)
	if buildErr != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
		return
	}
	c.JSON(http.StatusOK, activity)
}
