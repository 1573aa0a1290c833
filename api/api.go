package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/sorenmh/infrastructure-shared/release-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/engine"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/git"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/release-orchestrator/rollout"
)

type Server struct {
	config   *config.Config
	db       *db.Database
	engine   *engine.Engine
	rollouts *rollout.Manager
	forker   git.BranchForker
	router   *gin.Engine
}

const Version = "1.0.0"

func NewServer(cfg *config.Config, database *db.Database, eng *engine.Engine, rollouts *rollout.Manager, forker git.BranchForker) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := models.RegisterCustomValidations(v); err != nil {
			log.Printf("Failed to register custom validations: %v", err)
		}
	}

	s := &Server{
		config:   cfg,
		db:       database,
		engine:   eng,
		rollouts: rollouts,
		forker:   forker,
		router:   gin.Default(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check (no auth)
	s.router.GET("/health", s.handleHealth)

	// API routes (with auth)
	api := s.router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		// Releases
		api.POST("/releases", s.handleKickoff)
		api.GET("/releases", s.handleListReleases)
		api.GET("/releases/:id", s.handleGetRelease)
		api.POST("/releases/:id/advance", s.handleAdvance)
		api.POST("/releases/:id/pause", s.handlePause)
		api.POST("/releases/:id/resume", s.handleResume)
		api.POST("/releases/:id/archive", s.handleArchive)
		api.POST("/releases/:id/approve", s.handleApprove)

		// Regression cycles
		api.GET("/releases/:id/cycles", s.handleListCycles)
		api.POST("/releases/:id/cycles", s.handleCreateCycle)

		// Tasks
		api.GET("/releases/:id/tasks", s.handleListTasks)
		api.POST("/tasks/:taskId/retry", s.handleRetryTask)

		// Submissions and rollout
		api.GET("/releases/:id/submissions", s.handleListSubmissions)
		api.GET("/submissions/:id/history", s.handleListHistory)
		api.POST("/submissions/:id/rollout", s.handleUpdateRollout)
		api.POST("/submissions/:id/rollout/pause", s.handlePauseRollout)
		api.POST("/submissions/:id/rollout/resume", s.handleResumeRollout)
		api.POST("/submissions/:id/halt", s.handleHaltRollout)
		api.POST("/submissions/:id/cancel", s.handleCancelSubmission)
		api.POST("/submissions/:id/retry", s.handleRetrySubmission)
	}

	// Webhook callbacks from CI and external systems
	callbacks := s.router.Group("/callbacks")
	callbacks.Use(s.authMiddleware())
	{
		callbacks.POST("/tasks/:taskId", s.handleTaskCallback)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		if !s.config.ValidateAPIKey(parts[1]) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// respondError maps the domain error taxonomy to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	details := ""

	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	default:
		log.Printf("Internal error: %v", err)
		details = "see server logs"
	}

	c.JSON(status, models.ErrorResponse{
		Error:   err.Error(),
		Details: details,
		Time:    time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	gitOK := s.forker == nil || s.forker.CheckHealth() == nil
	dbOK := s.db.Ping() == nil

	status := "healthy"
	if !gitOK || !dbOK {
		status = "degraded"
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:             status,
		Version:            Version,
		DatabaseAccessible: dbOK,
		GitRepoAccessible:  gitOK,
	})
}

func (s *Server) handleKickoff(c *gin.Context) {
	var req models.KickoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	release, err := s.engine.Kickoff(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, release)
}

func (s *Server) handleListReleases(c *gin.Context) {
	appID := c.Query("app_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	releases, total, err := s.db.ListReleases(appID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ListReleasesResponse{
		Releases: releases,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleGetRelease(c *gin.Context) {
	release, err := s.db.GetRelease(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	cycles, err := s.db.ListCycles(release.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	submissions, err := s.db.ListSubmissions(release.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ReleaseDetailResponse{
		Release:     *release,
		Cycles:      cycles,
		Submissions: submissions,
	})
}

func (s *Server) handleAdvance(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.Advance(id); err != nil {
		respondError(c, err)
		return
	}

	release, err := s.db.GetRelease(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) handlePause(c *gin.Context) {
	var req models.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.engine.Pause(id, req.Reason); err != nil {
		respondError(c, err)
		return
	}

	release, err := s.db.GetRelease(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) handleResume(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.Resume(id); err != nil {
		respondError(c, err)
		return
	}

	release, err := s.db.GetRelease(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) handleArchive(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.Archive(id); err != nil {
		respondError(c, err)
		return
	}

	release, err := s.db.GetRelease(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) handleApprove(c *gin.Context) {
	var req models.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.engine.ApproveRelease(id, req.ApprovedBy); err != nil {
		respondError(c, err)
		return
	}

	release, err := s.db.GetRelease(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) handleListCycles(c *gin.Context) {
	if _, err := s.db.GetRelease(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	cycles, err := s.db.ListCycles(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

func (s *Server) handleCreateCycle(c *gin.Context) {
	cycle, err := s.engine.CreateCycle(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, cycle)
}

func (s *Server) handleListTasks(c *gin.Context) {
	if _, err := s.db.GetRelease(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	tasks, err := s.db.ListTasks(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ListTasksResponse{Tasks: tasks, Total: len(tasks)})
}

func (s *Server) handleRetryTask(c *gin.Context) {
	task, err := s.engine.RetryTask(c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (s *Server) handleTaskCallback(c *gin.Context) {
	var req models.TaskCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.engine.HandleCallback(c.Param("taskId"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	if _, err := s.db.GetRelease(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	submissions, err := s.db.ListSubmissions(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"submissions": submissions})
}

func (s *Server) handleListHistory(c *gin.Context) {
	if _, err := s.db.GetSubmission(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	history, err := s.db.ListHistory(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ListHistoryResponse{History: history, Total: len(history)})
}

func (s *Server) handleUpdateRollout(c *gin.Context) {
	var req models.RolloutUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.UpdateRollout(c.Param("id"), req.Percent, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) handlePauseRollout(c *gin.Context) {
	var req models.RolloutActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.PauseRollout(c.Param("id"), req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleResumeRollout(c *gin.Context) {
	var req models.RolloutActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.ResumeRollout(c.Param("id"), req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleHaltRollout(c *gin.Context) {
	var req models.RolloutStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.HaltRollout(c.Param("id"), req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleCancelSubmission(c *gin.Context) {
	var req models.RolloutStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.CancelSubmission(c.Param("id"), req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleRetrySubmission(c *gin.Context) {
	var req models.RolloutActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.rollouts.RetrySubmission(c.Param("id"), req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	log.Printf("Starting server on %s", addr)
	return s.router.Run(addr)
}
