package main

// @title Jeesi API
// @version 1.0
// @description 按积分计费的 AI 对话网关：Agent 预览与运行时对话、API Key、积分与用量
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name x-api-key

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jeesi/api"
	"jeesi/internal/config"
	"jeesi/internal/infra"
	"jeesi/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// shutdownTimeout 关闭 HTTP 服务与等待旁路任务的总时长
const shutdownTimeout = 15 * time.Second

func main() {
	// 0. 加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := api.AutoMigrateDB(db); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 4. 初始化 Redis（可选）
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}

	// 5. 组装依赖
	container, err := api.InitContainer(db, rdb, cfg)
	if err != nil {
		logger.Fatal("初始化依赖失败", zap.Error(err))
	}

	// 6. 创建路由
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := api.SetupRouter(container)

	// 流式响应需要 WriteTimeout 为 0 或足够大
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 7. queue 模式下启动旁路任务 worker
	if container.Worker != nil {
		if err := container.Worker.Start(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}

	gracefulShutdown(server, container)
}

// gracefulShutdown 依次关闭 HTTP 服务、旁路任务、Worker 与连接
func gracefulShutdown(server *http.Server, container *api.AppContainer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// HTTP 请求结束后再排空旁路任务，避免丢失最后一批扣费
	if err := container.Close(ctx); err != nil {
		logger.Error("旁路任务未能全部完成", zap.Error(err))
	}

	if container.Worker != nil {
		container.Worker.Shutdown()
	}

	if err := infra.CloseRedis(); err != nil {
		logger.Error("Redis 关闭异常", zap.Error(err))
	}
	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	path := resolveEnvPath()
	if path == "" {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		return
	}
	fmt.Printf("已加载环境变量文件: %s\n", path)
}

// resolveEnvPath 从工作目录与可执行文件目录向上查找 .env
func resolveEnvPath() string {
	var starts []string
	if wd, err := os.Getwd(); err == nil {
		starts = append(starts, wd)
	}
	if exe, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exe))
	}

	for _, start := range starts {
		dir := filepath.Clean(start)
		for i := 0; i < 4; i++ {
			candidate := filepath.Join(dir, ".env")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return ""
}
