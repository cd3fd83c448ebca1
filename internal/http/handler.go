package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"

	"github.com/nurpe/brokerage/internal/http/middleware"
	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/service"
	"github.com/nurpe/brokerage/internal/storage"
)

const maxMultipartMemory = 32 << 20

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	contracts *service.ContractService
	exports   *service.ExportService
	auth      *service.AuthService
	stager    storage.Stager
	health    HealthChecker
	log       zerolog.Logger
}

func NewHandler(
	contracts *service.ContractService,
	exports *service.ExportService,
	auth *service.AuthService,
	stager storage.Stager,
	health HealthChecker,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		contracts: contracts,
		exports:   exports,
		auth:      auth,
		stager:    stager,
		health:    health,
		log:       log,
	}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := router.Group("/api")
	api.GET("/health", h.healthCheck)
	api.POST("/auth/login", h.login)

	protected := api.Group("")
	protected.Use(authMiddleware)
	protected.GET("/auth/me", h.me)

	protected.POST("/contracts", h.createContract)
	protected.GET("/contracts", h.listContracts)
	protected.GET("/contracts/stats", h.contractStats)
	protected.GET("/contracts/export", h.exportContracts)
	protected.GET("/contracts/:id", h.getContract)
	protected.GET("/contracts/:id/pdf", h.exportContractPDF)
	protected.PUT("/contracts/:id", h.updateContract)
	protected.DELETE("/contracts/:id", h.deleteContract)

	protected.GET("/contracts/:id/users", h.listContractUsers)
	protected.POST("/contracts/:id/users", h.addContractUser)
	protected.PUT("/contracts/:id/users/:userId", h.updateContractUser)
	protected.DELETE("/contracts/:id/users/:userId", h.removeContractUser)

	protected.GET("/contract/customers", h.customerOptions)
	protected.GET("/contract/estates", h.availableEstates)
}

func (h *Handler) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if err := h.health.Ping(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	c.JSON(status, body)
}

type loginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user":       result.User,
	})
}

func (h *Handler) me(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	user, err := h.auth.Me(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) createContract(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	fields, err := requestFields(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	attachments, ok := h.stageFiles(c)
	if !ok {
		return
	}

	value := func(key string) string {
		v, _ := fields(key)
		return v
	}
	view, err := h.contracts.Create(c.Request.Context(), principal, service.CreateContractInput{
		CustomerID:         value("customer_id"),
		EstateID:           value("estate_id"),
		ContractType:       value("contract_type"),
		ContractDate:       value("contract_date"),
		Amount:             value("amount"),
		DurationMonths:     value("duration_months"),
		PaymentMethod:      value("payment_method"),
		Commission:         value("commission"),
		Notes:              value("notes"),
		CreatorDescription: value("creator_description"),
		Users:              value("users"),
		Attachments:        attachments,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listContracts(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	views, err := h.contracts.List(c.Request.Context(), principal, c.Query("status"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) getContract(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.contracts.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateContract(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	fields, err := requestFields(c)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	attachments, ok := h.stageFiles(c)
	if !ok {
		return
	}

	optional := func(key string) *string {
		if v, ok := fields(key); ok {
			return &v
		}
		return nil
	}
	view, err := h.contracts.Update(c.Request.Context(), principal, id, service.UpdateContractInput{
		ContractType:   optional("contract_type"),
		ContractDate:   optional("contract_date"),
		Amount:         optional("amount"),
		DurationMonths: optional("duration_months"),
		PaymentMethod:  optional("payment_method"),
		Commission:     optional("commission"),
		Status:         optional("status"),
		Notes:          optional("notes"),
		Attachments:    attachments,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) deleteContract(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.contracts.Delete(c.Request.Context(), principal, id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "قرارداد با موفقیت حذف شد"})
}

func (h *Handler) contractStats(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	stats, err := h.contracts.Stats(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) exportContracts(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	result, err := h.exports.Register(c.Request.Context(), principal, c.Query("status"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, contentType, result.Content)
}

func (h *Handler) exportContractPDF(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.exports.Summary(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, "application/pdf", result.Content)
}

func (h *Handler) listContractUsers(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	users, err := h.contracts.ListUsers(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type addContractUserRequest struct {
	UserID      uint    `json:"user_id" binding:"required"`
	Description *string `json:"description"`
	Role        string  `json:"role" binding:"max=32"`
}

func (h *Handler) addContractUser(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req addContractUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	created, err := h.contracts.AddUser(c.Request.Context(), principal, id, service.AddUserInput{
		UserID:      req.UserID,
		Description: req.Description,
		Role:        req.Role,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	if created {
		c.JSON(http.StatusCreated, gin.H{"message": "کاربر با موفقیت به قرارداد اضافه شد", "created": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "اطلاعات کاربر به‌روزرسانی شد", "created": false})
}

type updateContractUserRequest struct {
	Description *string `json:"description"`
	Role        string  `json:"role" binding:"max=32"`
}

func (h *Handler) updateContractUser(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}
	var req updateContractUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	err := h.contracts.UpdateUser(c.Request.Context(), principal, id, userID, service.UpdateUserInput{
		Description: req.Description,
		Role:        req.Role,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "اطلاعات کاربر با موفقیت به‌روزرسانی شد"})
}

func (h *Handler) removeContractUser(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}
	if err := h.contracts.RemoveUser(c.Request.Context(), principal, id, userID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "کاربر با موفقیت از قرارداد حذف شد"})
}

func (h *Handler) customerOptions(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	options, err := h.contracts.CustomerOptions(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

func (h *Handler) availableEstates(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	options, err := h.contracts.AvailableEstates(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

func (h *Handler) principal(c *gin.Context) (model.Principal, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "احراز هویت نامعتبر است", "detail": "missing principal"})
	}
	return principal, ok
}

func (h *Handler) pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "شناسه نامعتبر است", "detail": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// stageFiles stages every file of the "files" field. When one of them fails
// the ones already staged are deleted and the request is answered.
func (h *Handler) stageFiles(c *gin.Context) ([]model.Attachment, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, true
		}
		h.badRequest(c, err)
		return nil, false
	}

	ctx := c.Request.Context()
	files := form.File["files"]
	staged := make([]model.Attachment, 0, len(files))
	for _, file := range files {
		attachment, err := h.stager.Stage(ctx, file)
		if err != nil {
			h.unstage(ctx, staged)
			if errors.Is(err, storage.ErrRejected) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "فایل ارسال شده مجاز نیست", "detail": err.Error()})
				return nil, false
			}
			h.log.Error().Err(err).Str("file", file.Filename).Msg("stage attachment failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "خطا در ذخیره فایل", "detail": "failed to store attachment"})
			return nil, false
		}
		staged = append(staged, attachment)
	}
	return staged, true
}

func (h *Handler) unstage(ctx context.Context, attachments []model.Attachment) {
	ctx = context.WithoutCancel(ctx)
	for _, attachment := range attachments {
		if err := h.stager.Delete(ctx, attachment.Path); err != nil {
			h.log.Warn().Err(err).Str("path", attachment.Path).Msg("failed to delete staged attachment")
		}
	}
}

// requestFields reads scalar fields from a form or JSON body. JSON strings
// are unquoted; other JSON values are returned as their literal text.
func requestFields(c *gin.Context) (func(string) (string, bool), error) {
	if c.ContentType() != binding.MIMEJSON {
		if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		return c.GetPostForm, nil
	}

	raw := map[string]json.RawMessage{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		value, ok := raw[key]
		if !ok {
			return "", false
		}
		value = bytes.TrimSpace(value)
		if bytes.Equal(value, []byte("null")) {
			return "", false
		}
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			return text, true
		}
		return string(value), true
	}, nil
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  "اطلاعات ارسال شده نامعتبر است",
		"detail": formatBindingError(err),
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	message, detail, classified := service.Describe(err)
	switch {
	case !classified:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "خطای سرور", "detail": "internal error"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": message, "detail": detail})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": message, "detail": detail})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": message, "detail": detail})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": message, "detail": detail, "revoke_auth": true})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": message, "detail": detail})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": message, "detail": detail})
	}
}
