package server

import (
	"net/http"
	"strings"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"
	"credpool-go/internal/runtime"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes(api *gin.RouterGroup) {
	pools := api.Group("/owners/:owner/providers/:provider")
	pools.POST("/credentials/import", s.handleImport)
	pools.GET("/credentials", s.handleList)
	pools.POST("/credentials/select", s.handleSelect)
	pools.GET("/stats", s.handleStats)

	owned := api.Group("/owners/:owner/credentials/:id")
	owned.PATCH("/priority", s.handlePriority)
	owned.DELETE("", s.handleDelete)

	api.POST("/credentials/:id/report", s.handleReport)
	api.POST("/sweep", s.handleSweep)
	api.GET("/tasks", s.handleTasks)
	api.GET("/events/ws", s.handleEventsWS)
}

// poolScope pulls and validates the (owner, provider) pair every pool route
// is keyed by.
func poolScope(c *gin.Context) (string, credential.Provider, bool) {
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		renderError(c, apperrors.E(apperrors.KindFormatInvalid, "owner id is required"))
		return "", "", false
	}
	provider, ok := credential.ParseProvider(c.Param("provider"))
	if !ok {
		renderError(c, apperrors.Ef(apperrors.KindFormatInvalid, "unknown provider %q", c.Param("provider")))
		return "", "", false
	}
	c.Set("owner_id", owner)
	c.Set("provider", string(provider))
	return owner, provider, true
}

func renderError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	c.JSON(apperrors.HTTPStatus(kind), gin.H{
		"error": gin.H{
			"message": err.Error(),
			"kind":    kind,
		},
	})
}

type importRequest struct {
	Candidates []credential.Candidate `json:"candidates" binding:"required"`
}

func (s *Server) handleImport(c *gin.Context) {
	owner, provider, ok := poolScope(c)
	if !ok {
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apperrors.Wrap(apperrors.KindFormatInvalid, "invalid import request", err))
		return
	}
	if len(req.Candidates) == 0 {
		renderError(c, apperrors.E(apperrors.KindFormatInvalid, "candidates must not be empty"))
		return
	}

	report, err := s.pool.Import(c.Request.Context(), owner, provider, req.Candidates)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleList(c *gin.Context) {
	owner, provider, ok := poolScope(c)
	if !ok {
		return
	}
	records, err := s.pool.Store().List(c.Request.Context(), owner, provider)
	if err != nil {
		renderError(c, err)
		return
	}
	// Record's JSON shape omits the ciphertext.
	c.JSON(http.StatusOK, gin.H{"credentials": records})
}

func (s *Server) handleSelect(c *gin.Context) {
	owner, provider, ok := poolScope(c)
	if !ok {
		return
	}
	rec, err := s.pool.Select(c.Request.Context(), owner, provider)
	if err != nil {
		renderError(c, err)
		return
	}
	plaintext, err := s.pool.Decrypt(rec)
	if err != nil {
		renderError(c, err)
		return
	}
	s.pool.ReportSuccess(c.Request.Context(), rec.ID)

	c.JSON(http.StatusOK, gin.H{
		"id":         rec.ID,
		"provider":   rec.Provider,
		"priority":   rec.Priority,
		"credential": plaintext,
		"sub_config": rec.SubConfig,
	})
}

type reportRequest struct {
	Kind    apperrors.Kind `json:"kind" binding:"required"`
	Message string         `json:"message"`
}

func (s *Server) handleReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apperrors.Wrap(apperrors.KindFormatInvalid, "invalid report request", err))
		return
	}
	if err := s.pool.ReportFailure(c.Request.Context(), c.Param("id"), req.Kind, req.Message); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type priorityRequest struct {
	Priority int `json:"priority" binding:"required"`
}

func (s *Server) handlePriority(c *gin.Context) {
	owner := c.Param("owner")
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apperrors.Wrap(apperrors.KindFormatInvalid, "invalid priority request", err))
		return
	}
	if req.Priority < 1 {
		renderError(c, apperrors.E(apperrors.KindFormatInvalid, "priority must be a positive integer"))
		return
	}
	if err := s.pool.Store().UpdatePriority(c.Request.Context(), owner, c.Param("id"), req.Priority); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.pool.Store().Delete(c.Request.Context(), c.Param("owner"), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleSweep(c *gin.Context) {
	var (
		report *credential.SweepReport
		err    error
	)
	if owner := c.Query("owner"); owner != "" {
		report, err = s.pool.SweepOwner(c.Request.Context(), owner)
	} else {
		report, err = s.pool.Sweep(c.Request.Context())
	}
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStats(c *gin.Context) {
	owner, provider, ok := poolScope(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	total, err := s.pool.Store().CountByProvider(ctx, owner, provider)
	if err != nil {
		renderError(c, err)
		return
	}
	active, err := s.pool.Store().ListActive(ctx, owner, provider)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":  provider,
		"total":     total,
		"active":    len(active),
		"exhausted": total - len(active),
	})
}

func (s *Server) handleTasks(c *gin.Context) {
	tasks := []*runtime.Task{}
	if s.tasks != nil {
		tasks = s.tasks.ListTasks()
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
