package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/middlewares"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("resto-pos")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// respondError maps the typed error taxonomy onto HTTP statuses.
// 400 validation, 404 missing, 409 anything the caller should re-read
// and retry (stale version, illegal edge, shortfall).
func respondError(c *gin.Context, err error) {
	var (
		validationErr   *models.ValidationError
		notFoundErr     *models.NotFoundError
		conflictErr     *models.ConflictError
		transitionErr   *models.InvalidTransitionError
		insufficientErr *models.InsufficientStockError
		bindingErrs     validator.ValidationErrors
	)

	switch {
	case errors.Is(err, middlewares.ErrNoActor):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, middlewares.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &bindingErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":            conflictErr.Error(),
			"expected_version": conflictErr.ExpectedVersion,
			"actual_version":   conflictErr.ActualVersion,
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     transitionErr.Error(),
			"current":   transitionErr.Current,
			"requested": transitionErr.Requested,
		})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":           insufficientErr.Error(),
			"ingredient_id":   insufficientErr.IngredientId,
			"ingredient_name": insufficientErr.IngredientName,
			"needed":          insufficientErr.Needed,
			"available":       insufficientErr.Available,
		})
	default:
		logger := config.GetLogger()
		config.LogError(logger, "server.go", "respondError", c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON normalizes malformed bodies (bad JSON, unknown enum
// values) into the validation error shape instead of a 500.
func bindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		var bindingErrs validator.ValidationErrors
		if errors.As(err, &bindingErrs) {
			return err
		}
		return &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathId(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, &models.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

func createOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewOrder
		if err := bindJSON(c, &input); err != nil {
			respondError(c, err)
			return
		}
		order, err := models.CreateOrder(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func getOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		order, err := models.GetOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.OrderStatus
		if s := c.Query("status"); s != "" {
			parsed := models.OrderStatus(s)
			var check models.OrderStatus
			if err := check.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
				respondError(c, &models.ValidationError{Field: "status", Reason: "unknown status"})
				return
			}
			status = &parsed
		}
		activeOnly := strings.EqualFold(c.Query("active"), "true")

		orders, err := models.GetOrders(c.Request.Context(), status, activeOnly)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

type orderTransitionRequest struct {
	TargetStatus models.OrderStatus `json:"target_status" binding:"required"`
	Version      int                `json:"version" binding:"required"`
}

func orderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "order.transition")
		defer span.End()

		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var req orderTransitionRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		if err := middlewares.CheckOrderTransition(ctx, req.TargetStatus); err != nil {
			respondError(c, err)
			return
		}

		order, err := workflow.TransitionOrder(ctx, id, req.TargetStatus, req.Version)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type itemTransitionRequest struct {
	TargetStatus models.OrderItemStatus `json:"target_status" binding:"required"`
	Version      int                    `json:"version" binding:"required"`
}

func itemStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "order_item.transition")
		defer span.End()

		orderId, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		itemId, err := pathId(c, "itemId")
		if err != nil {
			respondError(c, err)
			return
		}
		var req itemTransitionRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		if err := middlewares.CheckItemTransition(ctx, req.TargetStatus); err != nil {
			respondError(c, err)
			return
		}

		order, err := models.TransitionOrderItem(ctx, orderId, itemId, req.TargetStatus, req.Version)
		if err != nil {
			respondError(c, err)
			return
		}
		// The aggregate may have just crossed into ready; that event
		// matters to front-of-house displays.
		if order.CurrentStatus == models.OrderStatusReady {
			workflow.NotifyOrderReady(ctx, order)
		}
		c.JSON(http.StatusOK, order)
	}
}

type replaceItemsRequest struct {
	Items   []models.NewOrderItem `json:"items" binding:"required"`
	Version int                   `json:"version" binding:"required"`
}

func replaceItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var req replaceItemsRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		order, err := workflow.ReplaceOrderItems(c.Request.Context(), id, req.Items, req.Version)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type paymentRequest struct {
	Version int `json:"version" binding:"required"`
}

// paymentHandler is the payment collaborator's hook: a settled
// payment completes the served order.
func paymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var req paymentRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		if err := middlewares.CheckOrderTransition(c.Request.Context(), models.OrderStatusCompleted); err != nil {
			respondError(c, err)
			return
		}
		order, err := workflow.TransitionOrder(c.Request.Context(), id, models.OrderStatusCompleted, req.Version)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if err := bindJSON(c, &input); err != nil {
			respondError(c, err)
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		activeOnly := strings.EqualFold(c.Query("active"), "true")
		products, err := models.GetProducts(c.Request.Context(), activeOnly)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"products": products})
	}
}

func createIngredientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewIngredient
		if err := bindJSON(c, &input); err != nil {
			respondError(c, err)
			return
		}
		ingredient, err := models.CreateIngredient(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, ingredient)
	}
}

// listIngredientsHandler serves both the full listing and the
// low-stock view (?low_stock=true) that purchasing polls.
func listIngredientsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			ingredients []*models.Ingredient
			err         error
		)
		if strings.EqualFold(c.Query("low_stock"), "true") {
			ingredients, err = models.GetLowStockIngredients(c.Request.Context())
		} else {
			ingredients, err = models.GetIngredients(c.Request.Context())
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ingredients": ingredients})
	}
}

func adjustIngredientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var input models.StockAdjustmentInput
		if err := bindJSON(c, &input); err != nil {
			respondError(c, err)
			return
		}
		ingredient, err := models.AdjustIngredientStock(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ingredient)
	}
}

func ingredientHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		rows, err := models.GetIngredientHistories(c.Request.Context(), id, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": rows})
	}
}

func getRecipeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		entries, err := models.GetProductRecipe(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recipe": entries})
	}
}

func addRecipeEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var input models.NewRecipeEntry
		if err := bindJSON(c, &input); err != nil {
			respondError(c, err)
			return
		}
		entry, err := models.AddRecipeEntry(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func removeRecipeEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathId(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		ingredientId, err := pathId(c, "ingredientId")
		if err != nil {
			respondError(c, err)
			return
		}
		if err := models.RemoveRecipeEntry(c.Request.Context(), id, ingredientId); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type bulkRecipeRequest struct {
	Products []models.RecipeReplaceInput `json:"products" binding:"required"`
}

func bulkReplaceRecipesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkRecipeRequest
		if err := bindJSON(c, &req); err != nil {
			respondError(c, err)
			return
		}
		results := models.ReplaceProductRecipes(c.Request.Context(), req.Products)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
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
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
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

	// Optional rate limiting (recommended for production).
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
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/orders", middlewares.RequireRole(models.ActorRoleServer, models.ActorRoleCashier), createOrderHandler())
	r.GET("/orders", listOrdersHandler())
	r.GET("/orders/:id", getOrderHandler())
	r.POST("/orders/:id/status", orderStatusHandler())
	r.POST("/orders/:id/items/:itemId/status", itemStatusHandler())
	r.PUT("/orders/:id/items", middlewares.RequireRole(models.ActorRoleServer), replaceItemsHandler())
	r.POST("/orders/:id/payment", paymentHandler())

	r.POST("/products", middlewares.RequireRole(models.ActorRoleManager), createProductHandler())
	r.GET("/products", listProductsHandler())
	r.GET("/products/:id/recipe", getRecipeHandler())
	r.POST("/products/:id/recipe", middlewares.RequireRole(models.ActorRoleManager), addRecipeEntryHandler())
	r.DELETE("/products/:id/recipe/:ingredientId", middlewares.RequireRole(models.ActorRoleManager), removeRecipeEntryHandler())
	r.PUT("/recipes/bulk", middlewares.RequireRole(models.ActorRoleManager), bulkReplaceRecipesHandler())

	r.POST("/ingredients", middlewares.RequireRole(models.ActorRoleManager), createIngredientHandler())
	r.GET("/ingredients", listIngredientsHandler())
	r.GET("/ingredients/:id/history", ingredientHistoryHandler())
	r.POST("/ingredients/:id/adjust", middlewares.RequireRole(models.ActorRoleManager), adjustIngredientHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
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

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, ginErr := range c.Errors {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(ginErr.Error())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := fmt.Sprintf("rate:%s", c.ClientIP())

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis unavailable: fail open.
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

func splitAndTrim(csv string) []string {
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

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
