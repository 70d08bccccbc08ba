package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brauliopf/brain-tumor-classification/classifier"
	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/handler"
	"github.com/brauliopf/brain-tumor-classification/middleware"
	"github.com/brauliopf/brain-tumor-classification/service"
	"github.com/brauliopf/brain-tumor-classification/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// SaliencyRoute 叠加图的静态访问路径
const SaliencyRoute = "/saliency_maps"

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting tumorscan server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 确保上传目录和输出目录存在
	for _, dir := range []string{cfg.Upload.UploadDir, cfg.Pipeline.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			utils.Logger.Fatal("failed to create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	ctx := context.Background()

	// 模型注册表
	if cfg.Models.OnnxRuntimeLib != "" {
		classifier.SetONNXRuntimeLibrary(cfg.Models.OnnxRuntimeLib)
	}
	registry := classifier.NewRegistry(classifier.DeploymentTable(cfg.Models.Dir), classifier.Options{})
	defer registry.Close()
	preloadModels(ctx, registry, cfg.Models.Preload)

	compositorOpts, err := service.CompositorOptionsFromConfig(&cfg.Saliency)
	if err != nil {
		utils.Logger.Fatal("invalid saliency config", zap.Error(err))
	}

	var mirror service.Mirror
	if cfg.Storage.S3.Enabled {
		s3Mirror, err := service.NewS3Mirror(ctx, &cfg.Storage.S3)
		if err != nil {
			utils.Logger.Warn("s3 mirror unavailable", zap.Error(err))
		} else {
			mirror = s3Mirror
		}
	}
	store, err := service.NewOverlayStore(cfg.Pipeline.OutputDir, SaliencyRoute, mirror)
	if err != nil {
		utils.Logger.Fatal("failed to open output directory", zap.Error(err))
	}

	// 初始化Redis
	var cache handler.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = service.NewResultCache(redisService, store)
			defer redisService.Close()
		}
	}

	explainer, err := service.NewExplainer(&cfg.Explainer)
	if err != nil {
		utils.Logger.Fatal("failed to create explainer", zap.Error(err))
	}

	classifyService := service.NewClassifyService(&cfg.Pipeline, registry,
		service.NewSaliencyCompositor(compositorOpts), store, explainer, cfg.Explainer.Placeholder)

	// 初始化Handler
	classifyHandler := handler.NewClassifyHandler(cfg, cache, classifyService, registry)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 静态文件服务
	r.Static(SaliencyRoute, cfg.Pipeline.OutputDir)

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/classify", classifyHandler.Classify)
		api.GET("/result/:md5", classifyHandler.GetByMD5)
		api.GET("/models", classifyHandler.Models)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server shutdown failed", zap.Error(err))
	}
}

// preloadModels 启动时加载配置中的模型，失败只记录日志
func preloadModels(ctx context.Context, registry *classifier.Registry, keys []string) {
	for _, key := range keys {
		arch, err := classifier.ParseArchitecture(key)
		if err != nil {
			utils.Logger.Warn("unknown model in preload list", zap.String("model", key))
			continue
		}
		start := time.Now()
		if _, err := registry.Get(ctx, arch); err != nil {
			utils.Logger.Error("failed to preload model", zap.String("model", key), zap.Error(err))
			continue
		}
		utils.Logger.Info("model loaded", zap.String("model", key), zap.Duration("duration", time.Since(start)))
	}
}
