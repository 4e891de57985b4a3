// Package api exposes the admin and status HTTP surface over gin.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"guardrail/config"
	"guardrail/featureflag"
	"guardrail/intake"
	"guardrail/manager"
	"guardrail/protection"
	"guardrail/signal"
)

// Server serves the HTTP API for one AccountManager.
type Server struct {
	manager *manager.AccountManager
	router  *gin.Engine
	port    int
}

// NewServer wires the routes. Port 0 is fine for tests driving the router
// directly.
func NewServer(m *manager.AccountManager, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		manager: m,
		router:  gin.New(),
		port:    port,
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/status/:user", s.handleStatus)
	s.router.POST("/api/signal/:user", s.handleSignal)
	s.router.POST("/api/confirm/:user", s.handleConfirm)

	admin := s.router.Group("/admin")
	admin.POST("/feature-flags", s.handleFeatureFlags)
	admin.POST("/resume/:user", s.handleResume)
	admin.POST("/hold/:user", s.handleHold)
	admin.PUT("/settings/:user", s.handleUpdateSettings)
}

// Run blocks serving HTTP on the configured port.
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%d", s.port))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	UserID     string              `json:"user_id"`
	Protection protection.Snapshot `json:"protection"`
	Warnings   []string            `json:"warnings,omitempty"`
	Flags      featureflag.State   `json:"flags"`
}

func (s *Server) handleStatus(c *gin.Context) {
	a, err := s.manager.Account(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		UserID:     a.ID,
		Protection: a.Engine.Snapshot(),
		Warnings:   a.Engine.NearLimitWarnings(),
		Flags:      s.manager.FeatureFlags().Snapshot(),
	})
}

func (s *Server) handleSignal(c *gin.Context) {
	var sig signal.TradeSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := s.manager.Admit(c.Request.Context(), c.Param("user"), sig)
	if err != nil {
		c.JSON(admissionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleConfirm(c *gin.Context) {
	a, err := s.manager.Account(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var receipt intake.Receipt
	if err := c.ShouldBindJSON(&receipt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	confirmed, err := a.Intake.Confirm(c.Request.Context(), &receipt)
	if err != nil {
		c.JSON(admissionStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, confirmed)
}

// admissionStatus maps admission failures onto HTTP codes: breaker and kill
// switch are 423 (locked), everything else is a caller problem.
func admissionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isLocked(err):
		return http.StatusLocked
	default:
		return http.StatusUnprocessableEntity
	}
}

func isLocked(err error) bool {
	return errors.Is(err, intake.ErrProtectionTripped) || errors.Is(err, intake.ErrTradingHalted)
}

func (s *Server) handleFeatureFlags(c *gin.Context) {
	var update featureflag.Update
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	state := s.manager.FeatureFlags().Apply(update)
	c.JSON(http.StatusOK, gin.H{"flags": state})
}

type resumeRequest struct {
	Operator string `json:"operator"`
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Operator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator identity is required"})
		return
	}

	snap, err := s.manager.Resume(c.Param("user"), req.Operator)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"protection": snap})
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hold reason is required"})
		return
	}

	snap, err := s.manager.Hold(c.Param("user"), req.Reason)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"protection": snap})
}

type settingsRequest struct {
	Capital               *decimal.Decimal `json:"capital"`
	RiskPercent           *decimal.Decimal `json:"risk_percent"`
	DailyLossLimitPercent *decimal.Decimal `json:"daily_loss_limit_percent"`
	ConsecutiveLossLimit  *int             `json:"consecutive_loss_limit"`
	ProtectionEnabled     *bool            `json:"protection_enabled"`
	AutoExecuteConfidence *float64         `json:"auto_execute_confidence"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	a, err := s.manager.Account(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prot := a.Engine.Settings()
	adm := a.Intake.Settings()
	if req.Capital != nil {
		if !req.Capital.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capital must be positive"})
			return
		}
		prot.Capital = *req.Capital
		adm.Capital = *req.Capital
	}
	if req.RiskPercent != nil {
		// Same window the startup config enforces.
		if err := config.ValidateRiskPercent(*req.RiskPercent); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		adm.RiskPercent = *req.RiskPercent
	}
	if req.DailyLossLimitPercent != nil {
		if req.DailyLossLimitPercent.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "daily_loss_limit_percent must not be negative"})
			return
		}
		prot.DailyLossLimitPercent = *req.DailyLossLimitPercent
	}
	if req.ConsecutiveLossLimit != nil {
		prot.ConsecutiveLossLimit = *req.ConsecutiveLossLimit
	}
	if req.ProtectionEnabled != nil {
		prot.Enabled = *req.ProtectionEnabled
	}
	if prot.Enabled && prot.ConsecutiveLossLimit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "consecutive_loss_limit must be at least 1 while protection is enabled"})
		return
	}
	if req.AutoExecuteConfidence != nil {
		if *req.AutoExecuteConfidence < 0 || *req.AutoExecuteConfidence > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "auto_execute_confidence outside [0,1]"})
			return
		}
		adm.AutoExecuteConfidence = *req.AutoExecuteConfidence
	}

	a.Engine.UpdateSettings(prot)
	a.Intake.UpdateSettings(adm)
	c.JSON(http.StatusOK, gin.H{
		"protection_settings": gin.H{
			"capital":                  prot.Capital,
			"daily_loss_limit_percent": prot.DailyLossLimitPercent,
			"consecutive_loss_limit":   prot.ConsecutiveLossLimit,
			"protection_enabled":       prot.Enabled,
		},
		"admission_settings": gin.H{
			"risk_percent":            adm.RiskPercent,
			"auto_execute_confidence": adm.AutoExecuteConfidence,
		},
	})
}
