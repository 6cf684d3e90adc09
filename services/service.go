package services

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ipahook/common"
	"ipahook/instrument"
	"ipahook/storage"
)

// Server exposes the patch pipeline over HTTP.
type Server struct {
	hook   string
	mussel string
	store  *storage.Store
}

// NewServer builds a server that patches with the given hook and mussel
// binaries and records completed runs in store.
func NewServer(hook, mussel string, store *storage.Store) *Server {
	return &Server{hook: hook, mussel: mussel, store: store}
}

// Router assembles the gin engine with CORS, auth and the API routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/health", s.health)
	r.POST("/auth/token", s.issueToken)

	auth := r.Group("/", requireAuth)
	auth.POST("/patch", s.patch)
	auth.POST("/revert", s.revert)
	auth.GET("/records", s.records)
	return r
}

// Run starts the HTTP server on addr and blocks.
func (s *Server) Run(addr string) error {
	common.Log.Infof("Starting the HTTP server on %s", addr)
	return s.Router().Run(addr)
}

// requireAuth rejects requests whose Authorization header fails validation.
func requireAuth(c *gin.Context) {
	if !IsValidUser(c.GetHeader("Authorization")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// issueToken exchanges valid basic credentials for a bearer JWT.
func (s *Server) issueToken(c *gin.Context) {
	if !IsValidUser(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token, err := GenerateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) patch(c *gin.Context) {
	s.runPipeline(c, "patch")
}

func (s *Server) revert(c *gin.Context) {
	s.runPipeline(c, "revert")
}

func (s *Server) runPipeline(c *gin.Context, action string) {
	var req common.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	localPath, err := common.DownloadIfURL(req.Path)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	patcher := &instrument.Patcher{
		Hook:     s.hook,
		Mussel:   s.mussel,
		Tag:      common.EndpointTag(req.Host, req.Port),
		Progress: common.LogProgress{},
	}

	if action == "patch" {
		err = patcher.PatchIPA(localPath)
	} else {
		err = patcher.RevertIPA(localPath)
	}
	if err != nil {
		common.Log.Errorf("%s %s: %v", action, localPath, err)
		c.JSON(pipelineStatus(err), gin.H{"error": err.Error()})
		return
	}

	rec := common.PatchRecord{
		ID:          uuid.NewString(),
		Action:      action,
		ArchivePath: localPath,
		Tag:         patcher.Tag,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.store.Put(rec); err != nil {
		common.Log.Errorf("record %s: %v", rec.ID, err)
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) records(c *gin.Context) {
	records, err := s.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// pipelineStatus maps pipeline failure classes to HTTP status codes.
// Unsafe or malformed inputs are the client's fault; everything else is
// a server-side filesystem problem.
func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, instrument.ErrUnsafeArchiveEntry),
		errors.Is(err, instrument.ErrArchiveFormat),
		errors.Is(err, instrument.ErrMetadataIO):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
