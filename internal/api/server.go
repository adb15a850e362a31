package api

import (
	"log/slog"
	"net/http"

	"metagen/server/internal/analytics"
	"metagen/server/internal/auth"
	"metagen/server/internal/model"
	"metagen/server/internal/provider"
	"metagen/server/internal/storage"
	"metagen/server/internal/store"
	"metagen/server/internal/upload"
	"metagen/server/internal/workspace"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Auth       *auth.Service
	Store      store.Store
	Generator  provider.Generator
	Uploads    *upload.Service
	Workspaces *workspace.Service
	Analytics  *analytics.Forwarder
	// Files serves objects of the in-memory backend under /files. Nil when
	// objects live in S3 or MinIO.
	Files         *storage.MemoryBackend
	Limits        model.Limits
	SessionCookie string
	SecureCookie  bool
	Logger        *slog.Logger
}

type Server struct {
	auth       *auth.Service
	store      store.Store
	gen        provider.Generator
	uploads    *upload.Service
	workspaces *workspace.Service
	analytics  *analytics.Forwarder
	files      *storage.MemoryBackend
	limits     model.Limits
	cookie     string
	secure     bool
	log        *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		auth:       d.Auth,
		store:      d.Store,
		gen:        d.Generator,
		uploads:    d.Uploads,
		workspaces: d.Workspaces,
		analytics:  d.Analytics,
		files:      d.Files,
		limits:     d.Limits.Normalize(),
		cookie:     d.SessionCookie,
		secure:     d.SecureCookie,
		log:        d.Logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))
	r.MaxMultipartMemory = 32 << 20

	if s.files != nil {
		r.GET("/files/*key", s.serveFile)
	}

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", func(c *gin.Context) {
		writeData(c, http.StatusOK, gin.H{"status": "ok"})
	})

	v1.POST("/auth/register", s.register)
	v1.POST("/auth/login", s.login)
	v1.POST("/auth/refresh", s.refresh)
	v1.POST("/synch", s.synch)

	authed := v1.Group("")
	authed.Use(AuthMiddleware(s.auth, s.cookie))
	{
		authed.GET("/client/bootstrap", s.clientBootstrap)
		authed.GET("/auth/check", s.check)
		authed.POST("/auth/logout", s.logout)
		authed.GET("/me", s.me)

		authed.POST("/thumbnails/generate", s.generateThumbnails)
		authed.POST("/thumbnails/regenerate", s.regenerateThumbnails)
		authed.GET("/thumbnails", s.listThumbnails)
		authed.POST("/metadata/description", s.generateDescription)
		authed.POST("/metadata/tags", s.generateTags)

		authed.POST("/upload", s.upload)
		authed.GET("/assets", s.listAssets)
		authed.GET("/assets/:asset_id", s.getAsset)

		authed.POST("/workspaces", s.createWorkspace)
		authed.GET("/workspaces/:workspace_id", s.getWorkspace)
		authed.PATCH("/workspaces/:workspace_id", s.patchWorkspace)
		authed.DELETE("/workspaces/:workspace_id", s.deleteWorkspace)
		authed.POST("/workspaces/:workspace_id/assets", s.attachAsset)
		authed.DELETE("/workspaces/:workspace_id/assets/:asset_id", s.detachAsset)
		authed.POST("/workspaces/:workspace_id/generate", s.generateWorkspace)
		authed.POST("/workspaces/:workspace_id/sections/:section/retry", s.retrySection)
		authed.POST("/workspaces/:workspace_id/thumbnails/regenerate", s.regenerateWorkspace)
		authed.PUT("/workspaces/:workspace_id/selection", s.selectVariant)
		authed.DELETE("/workspaces/:workspace_id/alerts/:scope", s.dismissAlert)
		authed.POST("/workspaces/:workspace_id/reset", s.resetWorkspace)
		authed.GET("/workspaces/:workspace_id/events", s.streamWorkspaceEvents)
	}

	return r
}
