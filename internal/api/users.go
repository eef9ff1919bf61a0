package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bigfood2010/birthday-reminder-service/internal/domain"
	"github.com/bigfood2010/birthday-reminder-service/internal/store"
)

// RFC3339 with millisecond precision, matching the stored schedule precision.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type handlers struct {
	repo store.Repo
	log  *zap.Logger
}

type createUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
	Birthday string `json:"birthday" binding:"required"`
	Timezone string `json:"timezone" binding:"required"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Phone    *string `json:"phone"`
	Birthday *string `json:"birthday"`
	Timezone *string `json:"timezone"`
}

type userResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone,omitempty"`
	Birthday       string  `json:"birthday"`
	Timezone       string  `json:"timezone"`
	NextBirthdayAt string  `json:"nextBirthdayAtUtc"`
	LastSentAt     *string `json:"lastSentAtUtc"`
	LastSentYear   *int    `json:"lastSentYear"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

func toResponse(u *domain.User) userResponse {
	resp := userResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		Birthday:       u.Birthday,
		Timezone:       u.Timezone,
		NextBirthdayAt: u.NextBirthdayAt.UTC().Format(isoMillis),
		LastSentYear:   u.LastSentYear,
		CreatedAt:      u.CreatedAt.UTC().Format(isoMillis),
		UpdatedAt:      u.UpdatedAt.UTC().Format(isoMillis),
	}
	if u.LastSentAt != nil {
		s := u.LastSentAt.UTC().Format(isoMillis)
		resp.LastSentAt = &s
	}
	return resp
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timezone := strings.TrimSpace(req.Timezone)
	next, err := domain.NextBirthdayAtUTC(req.Birthday, timezone, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u := &domain.User{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:          strings.TrimSpace(req.Phone),
		Birthday:       req.Birthday,
		Timezone:       timezone,
		NextBirthdayAt: next,
	}

	if err := h.repo.CreateUser(c.Request.Context(), u); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResponse(u))
}

func (h *handlers) getUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	u, err := h.repo.GetUser(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(u))
}

func (h *handlers) updateUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.repo.GetUser(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	patch := store.UserPatch{
		Birthday: req.Birthday,
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		patch.Name = &name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		patch.Email = &email
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		patch.Phone = &phone
	}
	if req.Timezone != nil {
		timezone := strings.TrimSpace(*req.Timezone)
		patch.Timezone = &timezone
	}

	// A birthday or timezone change invalidates the stored schedule: the next
	// occurrence is recomputed and all delivery state starts over.
	if req.Birthday != nil || req.Timezone != nil {
		birthday := existing.Birthday
		if req.Birthday != nil {
			birthday = *req.Birthday
		}
		timezone := existing.Timezone
		if patch.Timezone != nil {
			timezone = *patch.Timezone
		}
		next, err := domain.NextBirthdayAtUTC(birthday, timezone, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		patch.NextBirthdayAt = &next
		patch.ResetDeliveryState = true
	}

	if patch.IsEmpty() {
		c.JSON(http.StatusOK, toResponse(existing))
		return
	}

	updated, err := h.repo.UpdateUser(c.Request.Context(), id, patch)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(updated))
}

func (h *handlers) deleteUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.repo.DeleteUser(c.Request.Context(), id); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// userID validates the :id path parameter. Malformed ids are a client error,
// not a lookup miss.
func (h *handlers) userID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return "", false
	}
	return id, true
}

func (h *handlers) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user was not found"})
	case errors.Is(err, store.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
	default:
		h.log.Error("store operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
