package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/assign"
	"github.com/zulandar/porterline/internal/cycletime"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"github.com/zulandar/porterline/internal/presence"
	"github.com/zulandar/porterline/internal/roster"
	"gorm.io/gorm"
)

func (s *server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.POST("/requests", s.handleCreateRequest)
	api.GET("/requests/:id", s.handleGetRequest)
	api.POST("/requests/:id/status", s.handleUpdateStatus)
	api.POST("/requests/:id/claim", s.handleClaim)
	api.POST("/requests/:id/assign", s.handleAssign)
	api.POST("/requests/:id/cancel", s.handleCancel)
	api.POST("/requests/:id/transfer", s.handleTransfer)
	api.POST("/requests/:id/ack", s.handleAckAlert)

	api.POST("/workers/:id/presence", s.handleSetPresence)
	api.POST("/workers/:id/heartbeat", s.handleHeartbeat)
	api.POST("/workers/:id/disconnect", s.handleDisconnect)
	api.POST("/workers/:id/ack", s.handleAckWorkerAlert)

	api.GET("/roster", s.handleRoster)
	api.POST("/roster/primary", s.handleBecomePrimary)
	api.POST("/roster/assistant", s.handleRegisterAssistant)
	api.POST("/roster/break", s.handleTakeBreak)
	api.POST("/roster/return", s.handleReturnFromBreak)
	api.POST("/roster/end", s.handleEndSession)

	api.GET("/settings/:key", s.handleGetSetting)
	api.PUT("/settings/:key", s.handleSetSetting)

	api.GET("/state", s.handleState)
	router.GET("/events", s.handleEvents)
}

// fail maps engine errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, lifecycle.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, presence.ErrBusyWorker):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, roster.ErrInvariant),
		errors.Is(err, roster.ErrNotEligible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, roster.ErrNoSession),
		strings.Contains(err.Error(), "not found"):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *server) handleCreateRequest(c *gin.Context) {
	var body struct {
		OriginFloor string `json:"origin_floor"`
		RoomNumber  string `json:"room_number"`
		Priority    string `json:"priority"`
		Actor       string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	req, err := lifecycle.Create(s.db, s.bus, lifecycle.CreateOpts{
		OriginFloor: body.OriginFloor,
		RoomNumber:  body.RoomNumber,
		Priority:    body.Priority,
		Actor:       body.Actor,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (s *server) handleGetRequest(c *gin.Context) {
	req, err := lifecycle.Get(s.db, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	history, err := lifecycle.History(s.db, req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "history": history})
}

func (s *server) handleUpdateStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	req, err := lifecycle.Transition(s.db, s.bus, c.Param("id"), body.Status, body.Actor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) handleClaim(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	req, err := lifecycle.Claim(s.db, s.bus, c.Param("id"), body.WorkerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// handleAssign performs a manual assignment when worker_id is given, or
// runs the selector for an auto assignment when it is empty.
func (s *server) handleAssign(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
		Actor    string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}

	if body.WorkerID == "" {
		result, err := assign.AutoAssign(s.db, s.bus, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	req, err := lifecycle.Assign(s.db, s.bus, c.Param("id"), body.WorkerID, lifecycle.MethodManual, body.Actor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) handleCancel(c *gin.Context) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	req, err := lifecycle.Cancel(s.db, s.bus, c.Param("id"), body.Actor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) handleTransfer(c *gin.Context) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	req, err := lifecycle.Transfer(s.db, s.bus, c.Param("id"), body.Actor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// validAckPhases are the phases a cycle-time alert can be acknowledged for.
var validAckPhases = map[string]bool{
	cycletime.PhaseResponse:   true,
	cycletime.PhaseAcceptance: true,
	cycletime.PhasePickup:     true,
	cycletime.PhaseEnRoute:    true,
	cycletime.PhaseTransport:  true,
}

// handleAckAlert acknowledges a request-scoped alert: a cycle-time phase
// (the default kind) or the acceptance-timeout alert.
func (s *server) handleAckAlert(c *gin.Context) {
	var body struct {
		Kind  string `json:"kind"`
		Phase string `json:"phase"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if _, err := lifecycle.Get(s.db, c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	switch body.Kind {
	case "", "cycle":
		if !validAckPhases[body.Phase] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown phase: " + body.Phase})
			return
		}
		s.acks.Ack(c.Param("id"), body.Phase)
	case alerts.KindTimeout:
		s.dismissals.Dismiss(alerts.KindTimeout, c.Param("id"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert kind: " + body.Kind})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleAckWorkerAlert dismisses a worker-scoped alert: a break overrun or
// an offline notice.
func (s *server) handleAckWorkerAlert(c *gin.Context) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if body.Kind != alerts.KindBreak && body.Kind != alerts.KindOffline {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert kind: " + body.Kind})
		return
	}

	var p models.WorkerPresence
	if err := s.db.Where("worker_id = ?", c.Param("id")).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, fmt.Errorf("server: worker not found: %s", c.Param("id")))
			return
		}
		fail(c, err)
		return
	}
	s.dismissals.Dismiss(body.Kind, c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *server) handleSetPresence(c *gin.Context) {
	var body struct {
		Status      string `json:"status"`
		Explanation string `json:"explanation"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := presence.SetStatus(s.db, c.Param("id"), body.Status, body.Explanation); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleHeartbeat(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := presence.RecordHeartbeat(s.db, c.Param("id"), body.SessionID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleDisconnect(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := presence.Disconnect(s.db, c.Param("id"), body.SessionID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleRoster(c *gin.Context) {
	sessions, err := roster.ActiveSessions(s.db)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *server) handleBecomePrimary(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	session, err := roster.BecomePrimary(s.db, s.bus, body.WorkerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *server) handleRegisterAssistant(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	session, err := roster.RegisterAssistant(s.db, s.bus, body.WorkerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *server) handleTakeBreak(c *gin.Context) {
	var body struct {
		WorkerID       string `json:"worker_id"`
		ReliefWorkerID string `json:"relief_worker_id"`
		ReliefNote     string `json:"relief_note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := roster.TakeBreak(s.db, s.bus, body.WorkerID, body.ReliefWorkerID, body.ReliefNote); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleReturnFromBreak(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
		Reclaim  bool   `json:"reclaim"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := roster.ReturnFromBreak(s.db, s.bus, body.WorkerID, body.Reclaim); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleEndSession(c *gin.Context) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := roster.EndSession(s.db, s.bus, body.WorkerID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleGetSetting(c *gin.Context) {
	value, err := db.GetSetting(s.db, c.Param("key"), "")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

func (s *server) handleSetSetting(c *gin.Context) {
	var body struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, err)
		return
	}
	if err := db.SetSetting(s.db, c.Param("key"), body.Value); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": body.Value})
}

// handleState returns the full snapshot clients reconcile against after
// event-stream gaps.
func (s *server) handleState(c *gin.Context) {
	var active []models.TransportRequest
	err := s.db.Where("status NOT IN ?", lifecycle.TerminalStatuses).
		Order("created_at ASC").Find(&active).Error
	if err != nil {
		fail(c, err)
		return
	}

	var presences []models.WorkerPresence
	if err := s.db.Order("worker_id ASC").Find(&presences).Error; err != nil {
		fail(c, err)
		return
	}

	sessions, err := roster.ActiveSessions(s.db)
	if err != nil {
		fail(c, err)
		return
	}

	var averages []models.CycleTimeAverage
	if err := s.db.Order("phase ASC, floor ASC").Find(&averages).Error; err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": active,
		"presence": presences,
		"roster":   sessions,
		"averages": averages,
	})
}
