package bot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"referralbot/internal/journal"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLeaderboardLimit = 10
	defaultBroadcastsLimit  = 20
	maxListLimit            = 100
)

// HTTPServer serves the webhook endpoint and the operator API
type HTTPServer struct {
	bot         *Bot
	logger      *zap.Logger
	token       string
	apiKey      string
	webhookMode bool

	// dispatch handles one webhook update in the background
	dispatch func(update tgbotapi.Update)
}

// NewHTTPServer creates the HTTP surface of the bot.
// apiKey protects the operator routes when non-empty.
func NewHTTPServer(bot *Bot, token, apiKey string, webhookMode bool) *HTTPServer {
	hs := &HTTPServer{
		bot:         bot,
		logger:      bot.logger,
		token:       token,
		apiKey:      apiKey,
		webhookMode: webhookMode,
	}
	hs.dispatch = func(update tgbotapi.Update) {
		go bot.HandleUpdate(context.Background(), update)
	}
	return hs
}

// BroadcastRequest is the body of POST /api/broadcast
type BroadcastRequest struct {
	Message  string   `json:"message"`
	Commands []string `json:"commands"`
	// Audience is "users" (default) or "groups"
	Audience string `json:"audience"`
}

// BroadcastResponse reports the outcome of a broadcast
type BroadcastResponse struct {
	BroadcastID     string `json:"broadcastId"`
	TotalUsers      int    `json:"totalUsers"`
	SuccessfulSends int    `json:"successfulSends"`
	FailedSends     int    `json:"failedSends"`
}

// Router builds the gin engine with all routes and middleware
func (hs *HTTPServer) Router() *gin.Engine {
	router := gin.New()

	router.Use(requestID())
	router.Use(recovery(hs.logger))
	router.Use(requestLogger(hs.logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "X-API-Key"}
	router.Use(cors.New(corsConfig))

	router.GET("/", hs.handleIndex)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})

	// The token doubles as the webhook secret. It contains a colon, so it cannot be a literal gin path.
	router.POST("/bot/:token", hs.handleWebhook)

	router.GET("/users", hs.requireAPIKey, hs.handleUsers)

	api := router.Group("/api")
	{
		api.POST("/broadcast", hs.requireAPIKey, hs.handleBroadcast)
		api.GET("/broadcasts", hs.requireAPIKey, hs.handleBroadcasts)
		api.GET("/leaderboard", hs.handleLeaderboard)
	}

	return router
}

func (hs *HTTPServer) handleIndex(c *gin.Context) {
	mode := "polling"
	if hs.webhookMode {
		mode = "webhook"
	}
	c.String(http.StatusOK, "LocalCoinSwap referral bot is running in %s mode.", mode)
}

// handleWebhook acknowledges every update immediately and processes it in the background
func (hs *HTTPServer) handleWebhook(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(hs.token)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		// Telegram retries non-2xx answers, a malformed update would loop forever
		hs.logger.Warn("Failed to decode webhook update", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	hs.dispatch(update)
	c.Status(http.StatusOK)
}

// requireAPIKey checks the X-API-Key header when a key is configured
func (hs *HTTPServer) requireAPIKey(c *gin.Context) {
	if hs.apiKey == "" {
		c.Next()
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-API-Key")), []byte(hs.apiKey)) != 1 {
		hs.logger.Warn("Rejected API request with invalid key",
			zap.String("path", c.FullPath()),
			zap.String("client_ip", c.ClientIP()),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

// handleBroadcast sends a message to every user or group and reports the counts
func (hs *HTTPServer) handleBroadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		hs.logger.Warn("Failed to decode broadcast request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	audience := journal.AudienceUsers
	if req.Audience != "" {
		audience = journal.Audience(strings.ToLower(req.Audience))
	}

	res, err := hs.bot.Broadcast(c.Request.Context(), audience, req.Message, req.Commands)
	switch {
	case errors.Is(err, ErrUnknownAudience), errors.Is(err, ErrEmptyBroadcast):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		hs.logger.Error("Broadcast failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load recipients"})
		return
	}

	c.JSON(http.StatusOK, BroadcastResponse{
		BroadcastID:     res.ID.String(),
		TotalUsers:      res.Total,
		SuccessfulSends: res.Succeeded,
		FailedSends:     res.Failed,
	})
}

// handleUsers returns every stored user
func (hs *HTTPServer) handleUsers(c *gin.Context) {
	users, err := hs.bot.db.ListUsers(c.Request.Context())
	if err != nil {
		hs.logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching users"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// handleLeaderboard returns the referral ranking
func (hs *HTTPServer) handleLeaderboard(c *gin.Context) {
	limit, err := limitParam(c, defaultLeaderboardLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := hs.bot.db.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		hs.logger.Error("Failed to load leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching leaderboard"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// handleBroadcasts returns the latest journaled broadcasts
func (hs *HTTPServer) handleBroadcasts(c *gin.Context) {
	limit, err := limitParam(c, defaultBroadcastsLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := hs.bot.RecentBroadcasts(c.Request.Context(), limit)
	if err != nil {
		hs.logger.Error("Failed to load broadcasts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching broadcasts"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// limitParam reads ?limit=, capped at maxListLimit
func limitParam(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// requestID tags every request with an id, reusing the caller's X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// recovery turns handler panics into 500 answers
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic recovered",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}

// requestLogger logs one line per request. The route pattern is logged, never the raw path, so the webhook token stays out of the logs.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("Request processed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("body_size", c.Writer.Size()),
		)
	}
}
