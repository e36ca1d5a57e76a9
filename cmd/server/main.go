package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/api"
	"github.com/yourusername/course-extract-go/api/handlers"
	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/internal/infrastructure"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run in the foreground instead of detaching")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon re-executes the binary in server mode, detached from the terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	detach(cmd)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", os.DevNull, err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	general, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer general.Sync()

	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir(),
	}, general)
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	logAdapter := logger.NewLoggerAdapter(multiLog)
	log := logAdapter.General()

	log.Info("Starting course-extract server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("base_dir", config.Download.BaseDir),
		zap.String("default_cookie", logger.Redact(config.Xiaoe.Cookie)))

	if err := createDirectories(config); err != nil {
		return err
	}

	repo, err := infrastructure.NewSQLiteJobRepository(config.Queue.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	store, err := infrastructure.NewFileArtifactStore(config.Download.OutputDir())
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	registry := infrastructure.NewResolverRegistry()
	resolver := infrastructure.NewXiaoeResolver(config.Xiaoe, config.Download, log.Named("xiaoe"))
	if err := registry.Register(domain.PlatformXiaoe, infrastructure.XiaoeLinkPattern, resolver); err != nil {
		return fmt.Errorf("failed to register resolver: %w", err)
	}

	notifier := infrastructure.NewNotificationService(&config.Notification, log)
	controller := app.NewJobController(infrastructure.NewLinkClassifier(), registry, store, config.Download, logAdapter.Job())
	jobMgr := app.NewJobManager(repo, controller, store, notifier, &config.Queue, logAdapter)
	queueMgr := app.NewQueueManager(repo, jobMgr, notifier, &config.Queue, logAdapter)
	auth := infrastructure.NewXiaoeAuthChecker(config.Xiaoe, config.Download, log.Named("auth"))
	dispatcher := app.NewActionDispatcher(jobMgr, queueMgr, auth, config.Xiaoe.Credentials(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Queue.AutoStart {
		if err := queueMgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start queue manager: %w", err)
		}
	}

	router := api.SetupRouter(api.Services{
		Dispatcher: dispatcher,
		QueueMgr:   queueMgr,
		Platforms:  controller,
		LogAdapter: logAdapter,
		LogsDir:    config.Download.LogsDir(),
	}, config.Server)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Running jobs end as cancelled and their rows are saved
	if queueMgr.IsRunning() {
		if err := queueMgr.Stop(); err != nil {
			log.Error("Error stopping queue manager", zap.Error(err))
		}
	}

	if err := logAdapter.Sync(); err != nil {
		log.Debug("Failed to sync logs", zap.Error(err))
	}
	log.Info("Server exited")
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Download.BaseDir,
		config.Download.OutputDir(),
		config.Download.LogsDir(),
		config.Download.ConfigDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
