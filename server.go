package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/middlewares"
	"bitbucket.org/mmdatafocus/rental_backend/models"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"bitbucket.org/mmdatafocus/rental_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

// Asset codes are the human-facing identifier painted on the unit:
// uppercase alphanumerics with optional dashes, 3..20 chars.
var assetCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{1,18}[A-Z0-9]$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("assetcode", func(fl validator.FieldLevel) bool {
			return assetCodePattern.MatchString(fl.Field().String())
		})
	}
}

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(customErrorLogger(logger))

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS: explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated) in production, allow all elsewhere.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())

	api := r.Group("/api/v1")

	api.GET("/assets", listAssetsHandler)
	api.GET("/assets/:id", getAssetHandler)
	api.GET("/assets/:id/history", assetHistoryHandler)
	api.GET("/histories", listHistoriesHandler)
	api.GET("/histories/:id", getHistoryHandler)

	writes := api.Group("")
	writes.Use(middlewares.ActorRequired())
	writes.Use(middlewares.PermissionMiddleware("assets"))
	writes.POST("/assets", registerAssetHandler)
	writes.POST("/assets/:id/toggle-active", toggleActiveHandler)
	writes.POST("/assets/:id/transition", transitionHandler)
	writes.POST("/assets/:id/inspection/approve", approveInspectionHandler)
	writes.POST("/assets/:id/inspection/replace", replaceAfterInspectionHandler)
	writes.POST("/assets/:id/replace", replaceAssetHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// ---- handlers ----

type transitionRequest struct {
	Target  models.LocationType     `json:"target" binding:"required"`
	Payload *models.TransitionInput `json:"payload"`
}

type approveInspectionRequest struct {
	Destination models.LocationType     `json:"destination"`
	Note        string                  `json:"note"`
	Payload     *models.TransitionInput `json:"payload"`
}

type replaceRequest struct {
	IncomingId      int                     `json:"incoming_id" binding:"required"`
	Reason          string                  `json:"reason" binding:"required"`
	Destination     models.LocationType     `json:"destination"`
	OutgoingPayload *models.TransitionInput `json:"outgoing_payload"`
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func registerAssetHandler(c *gin.Context) {
	var input models.NewAsset
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset, err := models.CreateAsset(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func listAssetsHandler(c *gin.Context) {
	var name, assetCode *string
	var locationType *models.LocationType
	if v := c.Query("name"); v != "" {
		name = &v
	}
	if v := c.Query("asset_code"); v != "" {
		assetCode = &v
	}
	if v := c.Query("location_type"); v != "" {
		lt := models.LocationType(v)
		if !lt.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_type"})
			return
		}
		locationType = &lt
	}
	assets, err := models.ListAssets(c.Request.Context(), name, assetCode, locationType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// getAssetHandler accepts the numeric id or the painted asset code.
func getAssetHandler(c *gin.Context) {
	param := c.Param("id")
	if id, err := strconv.Atoi(param); err == nil {
		if id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
			return
		}
		asset, err := models.GetAsset(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, asset)
		return
	}
	asset, err := models.GetAssetByCode(c.Request.Context(), param)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func toggleActiveHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset, err := models.ToggleActiveAsset(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func transitionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := otel.Tracer("rental_backend/http").Start(c.Request.Context(), "asset.transition")
	defer span.End()

	asset, err := workflow.ApplyTransition(ctx, id, req.Target, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func approveInspectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req approveInspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset, err := workflow.ApproveInspection(c.Request.Context(), id, req.Destination, req.Payload, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func replaceAfterInspectionHandler(c *gin.Context) {
	replaceCommon(c, true)
}

func replaceAssetHandler(c *gin.Context) {
	replaceCommon(c, false)
}

func replaceCommon(c *gin.Context, viaGate bool) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	destination := req.Destination
	if destination == "" {
		destination = models.LocationTypeWarehouse
	}

	ctx, span := otel.Tracer("rental_backend/http").Start(c.Request.Context(), "asset.replace")
	defer span.End()

	var outgoing, incoming *models.Asset
	var err error
	if viaGate {
		outgoing, incoming, err = workflow.ReplaceAfterInspection(ctx, id, req.IncomingId, req.Reason, destination, req.OutgoingPayload)
	} else {
		outgoing, incoming, err = workflow.ReplaceAsset(ctx, id, req.IncomingId, req.Reason, destination, req.OutgoingPayload)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outgoing": outgoing, "incoming": incoming})
}

func assetHistoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var actionType *models.HistoryActionType
	if v := c.Query("action_type"); v != "" {
		at := models.HistoryActionType(v)
		if !at.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action_type"})
			return
		}
		actionType = &at
	}
	histories, err := models.GetHistories(c.Request.Context(), &id, nil, actionType, nil, 0, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func listHistoriesHandler(c *gin.Context) {
	var assetId, userId *int
	var assetCode *string
	var actionType *models.HistoryActionType
	if v := c.Query("asset_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset_id"})
			return
		}
		assetId = &n
	}
	if v := c.Query("asset_code"); v != "" {
		assetCode = &v
	}
	if v := c.Query("action_type"); v != "" {
		at := models.HistoryActionType(v)
		if !at.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action_type"})
			return
		}
		actionType = &at
	}
	if v := c.Query("user_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userId = &n
	}
	limit, offset := 0, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			if limit == 0 {
				limit = config.SearchLimit
			}
			offset = (n - 1) * limit
		}
	}
	histories, err := models.GetHistories(c.Request.Context(), assetId, assetCode, actionType, userId, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func getHistoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	history, err := models.GetHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// ---- plumbing ----

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

func statusFromError(err error) int {
	var required *models.RequiredFieldError
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrActorRequired):
		return http.StatusUnauthorized
	case errors.As(err, &required),
		errors.Is(err, models.ErrReasonTooShort),
		errors.Is(err, models.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAwaitingInspectionDecision),
		errors.Is(err, models.ErrNotAwaitingReport),
		errors.Is(err, models.ErrTransitionNotAllowed),
		errors.Is(err, models.ErrAlreadyReplaced),
		errors.Is(err, models.ErrIncomingNotEligible):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func getRedisClient(addr string) *redis.Client {
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rl:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded, try again later",
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
