package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	httpHandler "github.com/221fa04357-prog/connect-pro/internal/handler/http"
	wsHandler "github.com/221fa04357-prog/connect-pro/internal/handler/websocket"
	"github.com/221fa04357-prog/connect-pro/internal/hub"
	gormpersistence "github.com/221fa04357-prog/connect-pro/internal/infra/persistence/gorm"
	"github.com/221fa04357-prog/connect-pro/internal/infra/setup"
	redisstate "github.com/221fa04357-prog/connect-pro/internal/infra/state/redis"
	"github.com/221fa04357-prog/connect-pro/internal/middleware"
	"github.com/221fa04357-prog/connect-pro/internal/room"
	"github.com/221fa04357-prog/connect-pro/internal/service"
	"github.com/221fa04357-prog/connect-pro/internal/tasks"
	"github.com/221fa04357-prog/connect-pro/internal/worker"
)

// App 包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqServer    *worker.WorkerServer
	Scheduler      *asynq.Scheduler
	Rooms          *room.Registry
	Meetings       *service.MeetingService
	Hub            *hub.Hub
	HttpServer     *http.Server
	redisClientOpt asynq.RedisClientOpt
	// checkpointQueue 是本进程专用的 asynq 队列
	checkpointQueue string
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	meetingRepo := gormpersistence.NewGormMeetingRepository(db)
	chatRepo := gormpersistence.NewGormChatRepository(db)
	devices := redisstate.NewDeviceStorage(redisClient, cfg.KeyPrefix)

	// 5. 房间注册表，每个房间通过 Redis 频道与其他进程同步
	rooms := room.NewRegistry(room.Options{
		ReactionTTL:      cfg.ReactionTTL,
		SyncTimeout:      cfg.RoomSyncTimeout,
		SimulateSpeakers: cfg.SimulateSpeakers,
		RelayFactory: func(meetingID, instanceID string, bus *eventbus.Bus) room.Relay {
			channel := redisstate.MeetingChannel(cfg.KeyPrefix, meetingID)
			return redisstate.NewRelay(redisClient, bus, channel, instanceID, room.SyncedEvents...)
		},
	})

	// 6. 初始化 Services
	authService, err := service.NewAuthService(userRepo, devices, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	guestService := service.NewGuestService(devices, cfg.GuestSessionDuration, time.Now)
	meetingService := service.NewMeetingService(meetingRepo, chatRepo, rooms)
	commandService := service.NewCommandService(asynqClient)
	log.Info("Services initialized")

	// 7. Hub 和 Handlers
	hubInstance := hub.NewHub(meetingService, commandService)
	handlers := handlerSet{
		auth:    httpHandler.NewAuthHandler(authService),
		guest:   httpHandler.NewGuestHandler(guestService),
		meeting: httpHandler.NewMeetingHandler(meetingService, authService),
		ws:      wsHandler.NewWebSocketHandler(hubInstance, guestService, cfg.CORSAllowedOrigin),
	}

	// 8. Worker Server，检查点任务进入本进程专用队列
	checkpointQueue := "checkpoint-" + uuid.NewString()
	workerServer := worker.NewWorkerServer(redisClientOpt, chatRepo, meetingService, checkpointQueue, log)

	// 9. 路由与 HTTP Server
	router := newRouter(cfg, log, redisClient, guestService, handlers)
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:          cfg,
		Log:             log,
		DB:              db,
		RedisClient:     redisClient,
		AsynqClient:     asynqClient,
		AsynqServer:     workerServer,
		Rooms:           rooms,
		Meetings:        meetingService,
		Hub:             hubInstance,
		HttpServer:      httpServer,
		redisClientOpt:  redisClientOpt,
		checkpointQueue: checkpointQueue,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	// 包内代码通过 logrus 的标准 logger 记录日志
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	return log
}

// handlerSet 汇总路由需要的 handler
type handlerSet struct {
	auth    *httpHandler.AuthHandler
	guest   *httpHandler.GuestHandler
	meeting *httpHandler.MeetingHandler
	ws      *wsHandler.WebSocketHandler
}

// newRouter 创建 Gin Engine 并注册全部路由
func newRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, guests middleware.GuestChecker, h handlerSet) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.DeviceID())
	router.Use(middleware.Logger(log))
	router.Use(cors(cfg.CORSAllowedOrigin))
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	jwtAuth := middleware.Auth(cfg.JWTSecret)
	guestGate := middleware.GuestGate(cfg.JWTSecret, guests)

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", h.auth.Register)
		authRoutes.POST("/login", h.auth.Login)
		authRoutes.POST("/logout", h.auth.Logout)
		authRoutes.GET("/me", h.auth.Me)
		authRoutes.PUT("/subscription", jwtAuth, h.auth.UpdateSubscription)
	}
	guestRoutes := api.Group("/guest")
	{
		guestRoutes.POST("", h.guest.Start)
		guestRoutes.GET("", h.guest.Status)
		guestRoutes.DELETE("", h.guest.End)
	}
	meetingRoutes := api.Group("/meetings")
	{
		meetingRoutes.POST("", jwtAuth, h.meeting.CreateMeeting)
		meetingRoutes.GET("/:id", guestGate, h.meeting.GetMeeting)
		meetingRoutes.POST("/:id/join", guestGate, h.meeting.JoinMeeting)
		meetingRoutes.POST("/:id/leave", guestGate, h.meeting.LeaveMeeting)
		meetingRoutes.POST("/:id/end", jwtAuth, h.meeting.EndMeeting)
	}
	router.GET("/ws/meeting/:id", guestGate, h.ws.HandleConnection)
	return router
}

// cors 只放行配置的来源
func cors(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, "+middleware.DeviceHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", middleware.DeviceHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	go a.Hub.Run()
	go a.AsynqServer.Start()
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册周期性的会议检查点任务，任务投递到本进程的队列
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	schedule := a.Config.CheckpointSchedule
	entryID, err := scheduler.Register(schedule, tasks.NewMeetingCheckpointTask(), asynq.Queue(a.checkpointQueue))
	if err != nil {
		a.Log.Errorf("Could not register periodic meeting checkpoint task: %v", err)
		return
	}
	a.Log.Infof("Periodic meeting checkpoint task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	a.Scheduler = scheduler

	go func() {
		if err := scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 写回存活房间的检查点后关闭房间，Hub 会通知客户端
	if n, err := a.Meetings.Checkpoint(ctx); err != nil {
		a.Log.Errorf("Final meeting checkpoint failed: %v", err)
	} else {
		a.Log.Infof("Checkpointed %d live meetings", n)
	}
	a.Rooms.CloseAll()
	a.Hub.Stop()

	// 3. 停止定时任务和 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭客户端连接
	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}
	a.Log.Info("Application shutdown complete.")
}
