package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"
	"rillcall/internal/core/services"
	httphandlers "rillcall/internal/handlers/http"
	"rillcall/internal/infrastructure/media"
	"rillcall/internal/infrastructure/middleware"
	"rillcall/internal/infrastructure/monitoring"
	"rillcall/internal/infrastructure/notify"
	"rillcall/internal/infrastructure/presence"
	"rillcall/internal/infrastructure/reliability"
	repositories "rillcall/internal/infrastructure/repositories"
	webrtcinfra "rillcall/internal/infrastructure/webrtc"
	"rillcall/pkg/config"
	"rillcall/pkg/logger"
	"rillcall/pkg/tracing"
	"rillcall/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/root/configs/config.yaml",
	"config.yaml",
}

// loadConfig reads RILLCALL_CONFIG if set, otherwise the first config file found on the search path.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("RILLCALL_CONFIG"); path != "" {
		return config.Load(path)
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	// no file anywhere: defaults plus env overrides
	return config.Load(configPaths[0])
}

func main() {
	startTime := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("Falling back to default configuration", "error", err)
	}

	tracer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	identity := services.NewIdentityService(cfg.Identity.JWTSecret, cfg.Identity.Token)
	self, err := identity.CurrentUser(context.Background())
	if err != nil {
		log.Fatalw("Node identity token rejected", "error", err)
	}
	log = log.With("user_id", self.UserID)

	// Persistence
	repoFactory := repositories.NewRepositoryFactory(context.Background(), cfg, log)
	historyRepo, err := repoFactory.CreateHistoryRepository()
	if err != nil {
		log.Fatalw("Failed to create history repository", "error", err)
	}
	historyStore := reliability.NewHistoryStoreWrapper(historyRepo, cfg.History.Retry, cfg.History.CircuitBreaker, log)

	var metrics ports.CallMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	} else {
		metrics = services.NewMetricsService()
	}

	// Presence and SDP relay share one transport
	var (
		network ports.PresenceNetwork
		relay   webrtcinfra.Relay
	)
	if client := repoFactory.RedisClient(); cfg.Presence.Backend == "redis" && client != nil {
		network = presence.NewRedisNetwork(client, presence.RedisConfig{
			InstanceID:        utils.GenerateInstanceID(),
			MemberTTL:         cfg.Presence.MemberTTL,
			HeartbeatInterval: cfg.Presence.HeartbeatInterval,
			MaxMissedBeats:    3,
		}, log)
		relay = webrtcinfra.NewRedisRelay(client, log)
	} else {
		if cfg.Presence.Backend == "redis" {
			log.Warnw("Redis unavailable, presence and signaling limited to this process")
		}
		network = presence.NewMemoryNetwork()
		relay = webrtcinfra.NewMemoryRelay()
	}

	devices, err := media.NewDevices(media.Config{
		Enabled:      cfg.Media.Enabled,
		VideoWidth:   cfg.Media.VideoWidth,
		VideoHeight:  cfg.Media.VideoHeight,
		FrameRate:    cfg.Media.FrameRate,
		VideoBitrate: cfg.Media.VideoBitrate,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize media devices", "error", err)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	endpointCfg := webrtcinfra.Config{
		ICEServers:     iceServers,
		GatherTimeout:  cfg.WebRTC.GatherTimeout,
		RegisterCodecs: devices.RegisterCodecs,
	}
	endpointCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	endpointCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	endpoints, err := webrtcinfra.NewFactory(endpointCfg, relay, log)
	if err != nil {
		log.Fatalw("Failed to create peer endpoint factory", "error", err)
	}
	endpoint, err := endpoints.Open(context.Background(), self.PeerID())
	if err != nil {
		log.Fatalw("Failed to open peer endpoint", "error", err)
	}

	// Services
	hub := notify.NewHub(notify.Config{
		PingInterval:   cfg.Notify.PingInterval,
		PongTimeout:    cfg.Notify.PongTimeout,
		SendBuffer:     cfg.Notify.SendBuffer,
		AllowedOrigins: cfg.Notify.AllowedOrigins,
	}, log)

	registry := services.NewPresenceRegistry(network, cfg.Presence.Channel, cfg.Presence.Resubscribe, log)
	registry.OnSync(func(snapshot domain.PresenceSnapshot) {
		hub.Notify(domain.Notification{Type: domain.NotifyPresence, Data: registry.Online()})
	})

	signaling := services.NewSignalingChannel(endpoint, network, cfg.Signaling.InviteRate, cfg.Signaling.InviteBurst, metrics, log)
	recorder := services.NewHistoryRecorder(historyStore, historyStore, cfg.History.WriteTimeout, metrics, log)
	mediaManager := services.NewMediaStreamManager(devices, metrics, log)
	lease := services.NewDeviceLease()

	calls := services.NewCallService(services.CallServiceDeps{
		Identity:  identity,
		Signaling: signaling,
		Media:     mediaManager,
		Lease:     lease,
		History:   recorder,
		Metrics:   metrics,
		Notifier:  hub,
		Logger:    log.Named("call"),
	})
	calls.Observe(services.RingCueObserver(hub))
	calls.Observe(services.NotifyObserver(hub))

	mesh := services.NewMeshService(services.MeshServiceDeps{
		Identity:  identity,
		Endpoints: endpoints,
		Signaling: signaling,
		Media:     mediaManager,
		Lease:     lease,
		History:   recorder,
		Metrics:   metrics,
		Notifier:  hub,
		Policy:    domain.InitiatorPolicy(cfg.Mesh.InitiatorPolicy),
		Rejoin:    cfg.Presence.Resubscribe,
		Logger:    log.Named("mesh"),
	})

	signaling.Start()

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := registry.Join(joinCtx, self); err != nil {
		// the registry keeps resubscribing in the background
		log.Warnw("Presence join failed", "error", err)
	}
	joinCancel()

	// Health
	health := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}
	health.AddPingerCheck("history", historyStore, 2*time.Second)
	health.AddCheck("presence", func(context.Context) error {
		if !registry.Joined() {
			return errors.New("presence channel not joined")
		}
		return nil
	}, time.Second)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	auth := middleware.AuthMiddleware(identity, self.UserID)

	api := router.Group("/api/v1")
	api.Use(auth)
	httphandlers.NewCallHandler(calls).SetupRoutes(api)
	httphandlers.NewGroupHandler(mesh).SetupRoutes(api)
	httphandlers.NewPresenceHandler(registry, recorder, self.UserID).SetupRoutes(api)

	router.GET("/ws/events", auth, gin.WrapF(hub.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"user_id":   self.UserID,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting rillcall node on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	case <-signaling.Done():
		log.Errorw("Signaling endpoint closed unexpectedly")
	}

	log.Info("Shutting down rillcall node...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	shutdown(shutdownCtx, log, []closer{
		{"call service", calls.Close},
		{"mesh service", mesh.Close},
		{"presence", registry.Leave},
		{"peer endpoint", func(context.Context) error { return endpoint.Close() }},
		{"history writes", func(context.Context) error { recorder.Wait(); return nil }},
		{"event hub", func(context.Context) error { hub.Close(); return nil }},
		{"history store", func(context.Context) error { return historyStore.Close() }},
		{"repositories", func(context.Context) error { return repoFactory.Close() }},
		{"tracer", tracer.Shutdown},
	})

	log.Info("rillcall node stopped")
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// shutdown runs closers in order, logging failures and carrying on.
func shutdown(ctx context.Context, log *zap.SugaredLogger, closers []closer) {
	for _, c := range closers {
		if err := c.fn(ctx); err != nil {
			log.Errorw("Error during shutdown", "component", c.name, "error", err)
		}
	}
}
