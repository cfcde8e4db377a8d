package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QueueFM/cache"
	"QueueFM/config"
	"QueueFM/core/auth"
	"QueueFM/core/extractor"
	"QueueFM/core/playback"
	"QueueFM/core/queue"
	"QueueFM/core/room"
	"QueueFM/db"
	"QueueFM/logger"
	"QueueFM/repository"
	"QueueFM/storage"

	"github.com/gorilla/mux"
)

const shutdownTimeout = 10 * time.Second

// corsMiddleware 允许跨域访问 API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册所有路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/api/auth/token", h.TokenHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api/rooms").Subrouter()
	api.HandleFunc("", h.AuthMiddleware(h.ListRoomsHandler)).Methods(http.MethodGet)
	api.HandleFunc("/{room}", h.AuthMiddleware(h.CreateRoomHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}", h.AuthMiddleware(h.SaveRoomHandler)).Methods(http.MethodDelete)
	api.HandleFunc("/{room}/restore", h.AuthMiddleware(h.RestoreRoomHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/ws", h.AuthMiddleware(h.WebSocketHandler)).Methods(http.MethodGet)

	// 队列操作，响应为 NDJSON 事件流
	api.HandleFunc("/{room}/enqueue", h.AuthMiddleware(h.EnqueueHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/enqueue-top", h.AuthMiddleware(h.EnqueueTopHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/play-now", h.AuthMiddleware(h.PlayNowHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/skip", h.AuthMiddleware(h.SkipHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/remove", h.AuthMiddleware(h.RemoveHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/shuffle", h.AuthMiddleware(h.ShuffleHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/state", h.AuthMiddleware(h.StateHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/volume", h.AuthMiddleware(h.VolumeHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{room}/now-playing", h.AuthMiddleware(h.NowPlayingHandler)).Methods(http.MethodGet)
	api.HandleFunc("/{room}/queue", h.AuthMiddleware(h.ShowQueueHandler)).Methods(http.MethodGet)

	// 预检请求由 corsMiddleware 直接应答，这里只负责让路由匹配成功
	router.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	return router
}

// QueueOptions 从配置生成队列参数
func QueueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		BufferLength:       cfg.QueueBufferLength,
		MaxPlaylistLength:  cfg.QueueMaxPlaylistLength,
		DefaultVolume:      cfg.QueueDefaultVolume,
		InputBuffer:        cfg.QueueInputBuffer,
		MetadataCacheSize:  cfg.QueueMetadataCacheSize,
		HydrateConcurrency: cfg.QueueHydrateConcurrency,
	}
}

// OpenSnapshotStore 按 SNAPSHOT_STORE 连接快照存储，返回的函数用于关闭连接
func OpenSnapshotStore(cfg *config.Config) (room.SnapshotStore, func(), error) {
	switch cfg.SnapshotStore {
	case "redis":
		if err := cache.ConnectRedis(cfg); err != nil {
			return nil, nil, err
		}
		return cache.NewSnapshotCache(cache.RedisClient, cfg.SnapshotTTL), func() { _ = cache.CloseRedis() }, nil
	case "mysql":
		if err := db.ConnectGormDB(cfg); err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrate(); err != nil {
			_ = db.CloseGormDB()
			return nil, nil, err
		}
		return repository.NewGormSnapshotRepository(db.GormDB), func() { _ = db.CloseGormDB() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot store %q (want redis or mysql)", cfg.SnapshotStore)
	}
}

// NewExtractor 按 EXTRACTOR 选择元数据提取器
func NewExtractor(cfg *config.Config) (extractor.Extractor, error) {
	registry := extractor.NewRegistry(
		extractor.NewNetease(cfg.NeteaseAPIURL),
		extractor.NewDirect(),
	)
	return registry.Get(cfg.Extractor)
}

// Start 初始化依赖并启动 HTTP 服务，收到退出信号后保存所有房间
func Start(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := OpenSnapshotStore(cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer closeStore()
	logger.Info("快照存储已连接", logger.String("store", cfg.SnapshotStore))

	var archive room.Archiver
	if cfg.MinioEnabled {
		client, err := storage.NewMinio(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		archive = storage.NewSnapshotArchive(client, cfg.MinioBucket)
		logger.Info("快照归档已启用", logger.String("bucket", cfg.MinioBucket))
	}

	ext, err := NewExtractor(cfg)
	if err != nil {
		return err
	}
	if cache.RedisClient != nil && cfg.MetadataCacheTTL > 0 {
		ext = cache.NewMetadataCache(ext, cache.RedisClient, cfg.MetadataCacheTTL)
	}

	driver := playback.NewSimulated(playback.DefaultTrackLength)
	hub := room.NewHub(driver)
	go hub.Run()
	defer hub.Stop()

	manager := room.NewManager(ctx, driver, ext, store, archive, QueueOptions(cfg))
	if _, err := manager.RestoreAll(ctx); err != nil {
		logger.Warn("恢复房间失败", logger.ErrorField(err))
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     NewRouter(NewAPIHandler(manager, hub, issuer)),
		ReadTimeout: 30 * time.Second,
		// 事件流和 WebSocket 不设写超时
		IdleTimeout: 120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			logger.String("addr", cfg.HTTPAddr),
			logger.String("extractor", ext.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-stop:
		logger.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", logger.ErrorField(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("保存房间快照失败", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
	return nil
}
