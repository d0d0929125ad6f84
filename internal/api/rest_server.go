package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/cow-game/internal/auth"
	"github.com/annel0/cow-game/internal/cache"
	"github.com/annel0/cow-game/internal/leaderboard"
	"github.com/annel0/cow-game/internal/middleware"
	"github.com/annel0/cow-game/internal/session"
	"github.com/annel0/cow-game/internal/stats"
)

// Таймаут обращения к справочнику аккаунтов по умолчанию.
const defaultDirectoryTimeout = 5 * time.Second

// Верх таблицы лидеров меняется не чаще периодической синхронизации,
// поэтому ответ можно кешировать на несколько секунд.
const leaderboardCacheTTL = 10 * time.Second

// RestServer представляет REST API сервер
type RestServer struct {
	router   *gin.Engine
	userRepo auth.UserRepository
	store    stats.StatsStore
	registry *session.Registry
	board    *leaderboard.Syncer
	cache    cache.Cache
	metrics  *ServerMetrics
	httpSrv  *http.Server

	dirTimeout time.Duration
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port         string              // порт для запуска сервера
	UserRepo     auth.UserRepository // справочник аккаунтов (может быть nil)
	StatsStore   stats.StatsStore    // хранилище прогресса
	Registry     *session.Registry   // реестр сессий (для счетчика онлайна)
	Leaderboard  *leaderboard.Syncer // таблица лидеров (может быть nil)
	Cache        cache.Cache         // кеш ответов (nil → кеш в памяти)
	StoreTimeout time.Duration       // таймаут справочника и хранилищ (0 → 5s)
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":6060"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rest_api"))

	promMw := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		userRepo: config.UserRepo,
		store:    config.StatsStore,
		registry: config.Registry,
		board:    config.Leaderboard,
		cache:    config.Cache,
		metrics:  NewServerMetrics(),

		dirTimeout: config.StoreTimeout,
	}
	if server.cache == nil {
		server.cache = cache.NewMemoryCache()
	}
	if server.dirTimeout <= 0 {
		server.dirTimeout = defaultDirectoryTimeout
	}
	server.httpSrv = &http.Server{
		Addr:    config.Port,
		Handler: router,
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Проверка и регистрация имени (используется экраном входа)
	rs.router.GET("/user/:username", rs.handleUserGet)
	rs.router.PUT("/user/:username", rs.handleUserPut)

	api := rs.router.Group("/api")

	// Эндпоинт для аутентификации (без JWT защиты)
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", rs.handleLogin)
	}

	// Таблица лидеров публична
	api.GET("/leaderboard", rs.handleLeaderboard)

	// Защищенные эндпоинты (требуют JWT)
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/server", rs.handleServerInfo)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// UserCheckResponse — ответ проверки имени для экрана входа.
type UserCheckResponse struct {
	Available bool   `json:"available"`
	Exists    bool   `json:"exists"`
	Color     string `json:"color"`
	Message   string `json:"message,omitempty"`
}

// UserPutRequest — тело PUT /user/{username}.
type UserPutRequest struct {
	Password string `json:"password,omitempty"`
	Color    string `json:"color,omitempty"`
}

// findUserWithTimeout обращается к справочнику с ограничением по
// времени. Повисший запрос считается мягким отказом.
func (rs *RestServer) findUserWithTimeout(username string) (*auth.User, error) {
	type result struct {
		user *auth.User
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := rs.userRepo.FindByUsername(username)
		ch <- result{u, err}
	}()
	select {
	case r := <-ch:
		return r.user, r.err
	case <-time.After(rs.dirTimeout):
		return nil, fmt.Errorf("user lookup timed out")
	}
}

// handleUserGet сообщает, свободно ли имя. При недоступном справочнике
// имя считается свободным, чтобы не блокировать вход в игру.
func (rs *RestServer) handleUserGet(c *gin.Context) {
	username := c.Param("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, UserCheckResponse{Available: false, Message: "username required"})
		return
	}
	if rs.userRepo == nil {
		c.JSON(http.StatusOK, UserCheckResponse{Available: true, Color: auth.DefaultColor})
		return
	}

	user, err := rs.findUserWithTimeout(username)
	switch {
	case err == auth.ErrUserNotFound:
		c.JSON(http.StatusOK, UserCheckResponse{Available: true, Exists: false, Color: auth.DefaultColor})
	case err != nil:
		c.JSON(http.StatusOK, UserCheckResponse{
			Available: true,
			Exists:    false,
			Color:     auth.DefaultColor,
			Message:   "directory unavailable, treating name as available",
		})
	default:
		color := user.Color
		if color == "" {
			color = auth.DefaultColor
		}
		c.JSON(http.StatusOK, UserCheckResponse{Available: false, Exists: true, Color: color})
	}
}

// handleUserPut создает аккаунт, если его нет, иначе обновляет цвет.
// Идемпотентен, кроме самого создания аккаунта.
func (rs *RestServer) handleUserPut(c *gin.Context) {
	username := c.Param("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "username required"})
		return
	}
	if rs.userRepo == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "directory disabled"})
		return
	}

	var req UserPutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "invalid request body"})
		return
	}

	user, err := rs.findUserWithTimeout(username)
	switch {
	case err == auth.ErrUserNotFound:
		if req.Password == "" {
			c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "password required to create account"})
			return
		}
		hash, herr := auth.HashPassword(req.Password)
		if herr != nil {
			c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "password hashing failed"})
			return
		}
		created, cerr := rs.userRepo.CreateUser(username, hash, req.Color)
		if cerr == auth.ErrUserExists {
			c.JSON(http.StatusConflict, GenericResponse{Success: false, Message: "user already exists"})
			return
		}
		if cerr != nil {
			c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "account creation failed"})
			return
		}
		c.JSON(http.StatusCreated, GenericResponse{
			Success: true,
			Message: "account created",
			Data:    map[string]interface{}{"username": created.Username, "color": created.Color},
		})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "directory unavailable"})
	default:
		if req.Color != "" {
			if serr := rs.userRepo.SetColor(user.Username, req.Color); serr != nil {
				c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "color update failed"})
				return
			}
		}
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "account updated"})
	}
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	if rs.userRepo == nil {
		c.JSON(http.StatusServiceUnavailable, LoginResponse{Success: false, Message: "Авторизация отключена"})
		return
	}

	user, err := rs.userRepo.FindByUsername(req.Username)
	if err == auth.ErrUserNotFound {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}

	token, err := auth.GenerateJWT(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	_ = rs.userRepo.RecordLogin(user.Username)

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
	})
}

// handleLeaderboard возвращает верх таблицы лидеров
func (rs *RestServer) handleLeaderboard(c *gin.Context) {
	if rs.board == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "leaderboard disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	cacheKey := fmt.Sprintf("leaderboard:%d", limit)
	if data, err := rs.cache.Get(c.Request.Context(), cacheKey); err == nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
		return
	}

	entries, err := rs.board.Top(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "leaderboard query failed"})
		return
	}

	body, err := json.Marshal(gin.H{"entries": entries})
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: "leaderboard encode failed"})
		return
	}
	_ = rs.cache.Set(c.Request.Context(), cacheKey, body, leaderboardCacheTTL)
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// handleStats возвращает прогресс игрока и метрики сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	username := c.GetString("username")

	ctx, cancel := context.WithTimeout(c.Request.Context(), rs.dirTimeout)
	defer cancel()

	data := map[string]interface{}{
		"player": rs.store.GetPlayerProgress(ctx, auth.Identity(username)),
		"global": rs.store.GetGlobalProgress(ctx),
	}

	cpuPercent, _ := rs.metrics.GetCPUUsage()
	data["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", rs.metrics.GetMemoryUsage()),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	data["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    data,
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	online := 0
	if rs.registry != nil {
		online = rs.registry.Count()
	}

	info := map[string]interface{}{
		"name":        "Cow Game Server",
		"status":      "running",
		"uptime":      rs.metrics.GetUptime(),
		"online":      online,
		"memory_mb":   fmt.Sprintf("%.1f", rs.metrics.GetMemoryUsage()),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
	}

	// Справочники со счетчиками аккаунтов отдают их дополнительно.
	if statser, ok := rs.userRepo.(interface {
		GetUserStats() (map[string]interface{}, error)
	}); ok {
		if accounts, err := statser.GetUserStats(); err == nil {
			info["accounts"] = accounts
		}
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

// handleHealth проверка состояния сервера и хранилища
func (rs *RestServer) handleHealth(c *gin.Context) {
	redisStatus := "connected"
	status := "ok"

	ctx, cancel := context.WithTimeout(c.Request.Context(), rs.dirTimeout)
	defer cancel()
	if err := rs.store.Ping(ctx); err != nil {
		redisStatus = "unavailable"
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"redis":     redisStatus,
	})
}

// Start запускает REST сервер. Блокирует до остановки.
func (rs *RestServer) Start() error {
	err := rs.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop останавливает REST сервер, дожидаясь активных запросов.
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpSrv.Shutdown(ctx)
}
