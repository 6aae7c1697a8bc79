package web

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"

	"github.com/subverse/subverse/activitypub"
	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/util"
)

// Server bundles the federation services behind the HTTP surface.
type Server struct {
	conf        *util.AppConfig
	db          *db.DB
	directory   *activitypub.Directory
	collections *activitypub.Collections
	gate        *activitypub.Gate
	inbox       *activitypub.Inbox
	outbox      *activitypub.Outbox
}

func NewServer(conf *util.AppConfig, database *db.DB, directory *activitypub.Directory,
	collections *activitypub.Collections, gate *activitypub.Gate, inbox *activitypub.Inbox,
	outbox *activitypub.Outbox) *Server {
	return &Server{
		conf:        conf,
		db:          database,
		directory:   directory,
		collections: collections,
		gate:        gate,
		inbox:       inbox,
		outbox:      outbox,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(s.db, s.conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	if s.conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/.well-known/webfinger", s.HandleWebfinger)

		// Instance actor
		g.GET("/actor", s.HandleInstanceActor)
		g.GET("/outbox", s.HandleInstanceOutbox)
		g.GET("/followers", s.HandleInstanceFollowers)
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleSharedInbox)

		// User actors
		g.GET("/users/:username", s.HandleUserActor)
		g.GET("/users/:username/outbox", s.HandleUserOutbox)
		g.GET("/users/:username/followers", s.HandleUserFollowers)
		g.POST("/users/:username/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleUserInbox)

		// Group actors
		g.GET("/groups/:name", s.HandleGroupActor)
		g.GET("/groups/:name/outbox", s.HandleGroupOutbox)
		g.GET("/groups/:name/followers", s.HandleGroupFollowers)
		g.POST("/groups/:name/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleGroupInbox)

		// Objects
		g.GET("/notes/:id", s.HandleNote)
		g.GET("/activities/:id", s.HandleActivity)
	}

	// Admin settings surface
	api := g.Group("/api", AdminAuthMiddleware(s.conf.Conf.AdminToken))
	{
		api.PUT("/users/:username/federation", s.HandleSetUserFederation)
		api.POST("/users/:username/rotate-key", s.HandleRotateKey)
		api.PUT("/subs/:sub/federation", s.HandleSetSubFederation)
		api.PUT("/posts/:id/federation", s.HandleSetPostFederation)
		api.POST("/posts/:id/federate", s.HandleFederatePost)
		api.DELETE("/posts/:id", s.HandleRetractPost)
		api.POST("/subs/:sub/announce/:id", s.HandleAnnouncePost)
		api.POST("/instances/block", s.HandleBlockInstance)
		api.GET("/federation/stats", s.HandleFederationStats)
	}

	return g
}

// Serve runs the HTTP server until it fails.
func (s *Server) Serve() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

// HandleWebfinger answers discovery queries for all three actor kinds.
func (s *Server) HandleWebfinger(c *gin.Context) {
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")

	kind, name, err := ParseResource(c.Query("resource"), s.conf)
	if err == ErrMalformedResource {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed resource"})
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	err, actor := s.directory.Resolve(kind, name)
	if err != nil || actor == nil || !actor.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	c.JSON(http.StatusOK, BuildJRD(actor, s.conf))
}
