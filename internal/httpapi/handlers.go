package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/consult"
	"telehealth-platform/internal/monitor"
	"telehealth-platform/internal/presence"
	"telehealth-platform/internal/rbac"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/internal/wallet"
	"telehealth-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Sessions *consult.Service
	Tracker  *presence.Tracker
	Wallet   *wallet.Service
	Reports  *reporting.Service
	Monitor  *monitor.Manager
	Audit    *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Sessions ---

type scheduleRequest struct {
	PatientID             string    `json:"patient_id"`
	PhysicianID           string    `json:"physician_id"`
	ScheduledFor          time.Time `json:"scheduled_for"`
	ConsultationRateMinor int64     `json:"consultation_rate_minor"`
	Currency              string    `json:"currency"`
	Prepaid               bool      `json:"prepaid"`
}

// Schedule creates a new session. This is the booking-flow boundary; the
// staff/agent roles (and admins) may call it.
func (h Handlers) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Sessions.Schedule(c.Request.Context(), consult.ScheduleRequest{
		PatientID:             req.PatientID,
		PhysicianID:           req.PhysicianID,
		ScheduledFor:          req.ScheduledFor,
		ConsultationRateMinor: req.ConsultationRateMinor,
		Currency:              req.Currency,
		Prepaid:               req.Prepaid,
	})
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession returns one session. Participants and admins only.
func (h Handlers) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if !sess.IsParticipant(userID) && !rbac.IsAdmin(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListMySessions returns the caller's sessions, newest scheduled first.
func (h Handlers) ListMySessions(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rows, err := h.Sessions.ListFor(c.Request.Context(), userID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": rows})
}

// Readiness reports the join-window state and the countdown until it opens.
func (h Handlers) Readiness(c *gin.Context) {
	state, wait, err := h.Sessions.Readiness(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":               state,
		"retry_after_seconds": int(wait / time.Second),
	})
}

func (h Handlers) StartSession(c *gin.Context) {
	h.transition(c, h.Sessions.Start)
}

func (h Handlers) EndSession(c *gin.Context) {
	h.transition(c, h.Sessions.End)
}

func (h Handlers) CancelSession(c *gin.Context) {
	h.transition(c, h.Sessions.Cancel)
}

// transition runs one state-machine command for the authenticated caller and
// maps the typed errors onto HTTP statuses.
func (h Handlers) transition(c *gin.Context, op func(ctx context.Context, sessionID, actorID string) (consult.Session, error)) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	sess, err := op(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		abortSessionErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Presence ---

// Heartbeat refreshes the caller's liveness within a session. Participants
// only; routed behind a per-user rate limit.
func (h Handlers) Heartbeat(c *gin.Context) {
	sess, userID, ok := participantSession(c, h.Sessions)
	if !ok {
		return
	}
	if err := h.Tracker.Heartbeat(c.Request.Context(), sess.ID, userID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Leave marks the caller offline immediately (explicit disconnect).
func (h Handlers) Leave(c *gin.Context) {
	sess, userID, ok := participantSession(c, h.Sessions)
	if !ok {
		return
	}
	if err := h.Tracker.Leave(c.Request.Context(), sess.ID, userID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "leave failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence lists which participants of a session are currently online.
func (h Handlers) Presence(c *gin.Context) {
	sess, _, ok := participantSession(c, h.Sessions)
	if !ok {
		return
	}
	online, err := h.Tracker.Online(c.Request.Context(), sess.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

// OnlineUsers lists every user currently online across all sessions.
// Back-office view; routed behind the staff/agent roles.
func (h Handlers) OnlineUsers(c *gin.Context) {
	users, err := h.Tracker.ListOnline(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": users})
}

// UserPresence reports a single user's cross-session liveness. A user the
// tracker has never seen is reported offline.
func (h Handlers) UserPresence(c *gin.Context) {
	rec, known, err := h.Tracker.Status(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	if !known {
		c.JSON(http.StatusOK, gin.H{"status": presence.StatusOffline})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// participantSession loads the session and enforces that the caller is one of
// its two parties.
func participantSession(c *gin.Context, sessions *consult.Service) (consult.Session, string, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return consult.Session{}, "", false
	}
	sess, err := sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortSessionErr(c, err)
		return consult.Session{}, "", false
	}
	if !sess.IsParticipant(userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return consult.Session{}, "", false
	}
	return sess, userID, true
}

// --- Global session monitor ---

const monitorPollTimeout = 25 * time.Second

// MonitorNext long-polls for the next of the caller's sessions to enter
// in_progress. 200 with the session when one fires, 204 when the poll times
// out and the client should re-poll. Each poll gets a fresh watcher, so the
// same transition is never delivered twice to one connection.
func (h Handlers) MonitorNext(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ch := make(chan consult.Session, 1)
	cancel := h.Monitor.Watch(userID, func(s consult.Session) {
		select {
		case ch <- s:
		default:
		}
	})
	defer cancel()

	select {
	case sess := <-ch:
		c.JSON(http.StatusOK, sess)
	case <-c.Request.Context().Done():
		return
	case <-time.After(monitorPollTimeout):
		c.Status(http.StatusNoContent)
	}
}

// --- Wallet ---

// GetMyWalletBalance returns the caller's own wallet balance.
func (h Handlers) GetMyWalletBalance(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	w, err := h.Wallet.WalletFor(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no wallet"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet lookup failed"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), userID, w.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

type adminManualCreditRequest struct {
	OwnerID  string `json:"owner_id"`
	WalletID string `json:"wallet_id"`

	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

// AdminManualCredit performs an admin-only wallet credit.
func (h Handlers) AdminManualCredit(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminManualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OwnerID == "" || req.WalletID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id, wallet_id required"})
		return
	}

	_, _, bal, err := h.Wallet.AdminManualCredit(c.Request.Context(), req.OwnerID, req.WalletID, adminUserID, adminRole, wallet.AdminCreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogAdminAction(c.Request.Context(), adminUserID, adminRole, c.ClientIP(),
			"manual wallet credit: "+req.Reason, req.WalletID, req.Metadata); err != nil {
			logger.From(c.Request.Context()).Error("admin action audit write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, bal)
}

// --- Reporting ---

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return reporting.TimeRange{}, false
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

// ConsultationSummary aggregates the caller's session history.
func (h Handlers) ConsultationSummary(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.ConsultationSummary(c.Request.Context(), reporting.ConsultationSummaryRequest{UserID: userID, Range: rng})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// SpendSummary aggregates the caller's wallet activity.
func (h Handlers) SpendSummary(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		OwnerID:  userID,
		Range:    rng,
		WalletID: c.Query("wallet_id"),
		Currency: c.Query("currency"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func abortSessionErr(c *gin.Context, err error) {
	var notReady *consult.NotReadyError
	var transition *consult.TransitionError
	var expired *consult.WindowExpiredError
	switch {
	case errors.Is(err, consult.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, consult.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	case errors.Is(err, consult.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.As(err, &notReady):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":               "session not ready",
			"retry_after_seconds": int(notReady.RetryAfter / time.Second),
		})
	case errors.As(err, &expired):
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "join window has expired"})
	case errors.As(err, &transition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "illegal transition",
			"from":  transition.From,
			"to":    transition.To,
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
