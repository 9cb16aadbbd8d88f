package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"
	"baes_platform/baes_manager/seed"
	"baes_platform/baes_manager/services"
	"baes_platform/baes_manager/storage"
	"baes_platform/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type serverEnv struct {
	DatabaseUri string `env:"DATABASE_URI"`
	SqlitePath  string `env:"SQLITE_PATH"`

	ShareDir string `env:"SHARE_DIR,required"`

	MaxUploadBytes  int64    `env:"MAX_UPLOAD_BYTES" envDefault:"33554432"`
	UploadRateLimit int      `env:"UPLOAD_RATE_LIMIT" envDefault:"30"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	SeedFile string `env:"SEED_FILE"`
	SkipSeed bool   `env:"SKIP_SEED"`
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

/**
 * ==========================================================================
 * ==== All variables used by the server must be loaded here. This is    ====
 * ==== to make the data flow clear so that a user can see what          ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
func loadEnv() (*serverEnv, error) {
	cfg := &serverEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if (cfg.DatabaseUri == "") == (cfg.SqlitePath == "") {
		return nil, errors.New("exactly one of DATABASE_URI or SQLITE_PATH must be specified")
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}

	return cfg, nil
}

func postgresDsn(uri string) (string, error) {
	parts, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("error parsing db uri: %w", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port()), nil
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))

	// victoria logs option transform keys like msg and time into victoria log keys _msg and _time
	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(true))
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{slog.String("service_type", "baes_manager")})
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	slog.SetDefault(slog.New(slogmulti.Fanout(jsonHandler, textHandler)))

	slog.Info("logging initialized", logging.Code(logging.SYSTEM), "log_file", logFile.Name())
}

func initDb(cfg *serverEnv) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.DatabaseUri != "" {
		dsn, err := postgresDsn(cfg.DatabaseUri)
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(dsn)
	} else {
		// sqlite does not enforce foreign keys unless asked to.
		dialector = sqlite.Open(fmt.Sprintf("file:%v?_foreign_keys=on&_busy_timeout=5000", cfg.SqlitePath))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if err := schema.Migrate(db); err != nil {
		return nil, fmt.Errorf("error migrating db schema: %w", err)
	}

	return db, nil
}

func seedDb(db *gorm.DB, cfg *serverEnv) error {
	if cfg.SkipSeed {
		slog.Info("skipping default data", logging.Code(logging.SEED))
		return nil
	}

	data := seed.DefaultData()
	if cfg.SeedFile != "" {
		var err error
		data, err = seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
	}

	return seed.Apply(db, data)
}

func openLogFile(shareDir, name string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(shareDir, "logs", name), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file %v: %w", name, err)
	}
	return file, nil
}

// The reason we have a separate runApp function is because the defer calls don't
// run if we exit with log.Fatalf, so instead we return an err here and fail outside
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}

	cfg, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.ShareDir, "logs"), 0777); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}

	logFile, err := openLogFile(cfg.ShareDir, "baes_manager.log")
	if err != nil {
		return err
	}
	defer logFile.Close()

	auditLog, err := openLogFile(cfg.ShareDir, "audit.log")
	if err != nil {
		return err
	}
	defer auditLog.Close()

	initLogging(logFile)

	db, err := initDb(cfg)
	if err != nil {
		return err
	}

	if err := seedDb(db, cfg); err != nil {
		return fmt.Errorf("error creating default data: %w", err)
	}

	auditLogger := auth.NewAuditLogger(auditLog)

	baesManager := services.NewBaesManager(db, storage.NewSharedDisk(cfg.ShareDir), services.Options{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadRateLimit: cfg.UploadRateLimit,
		AuditLog:        auditLogger.Middleware,
	})

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Mount("/", baesManager.Routes())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received", logging.Code(logging.SYSTEM))
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("HTTP server Shutdown", "err", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", logging.Code(logging.SYSTEM), "port", *port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	slog.Info("server stopped", logging.Code(logging.SYSTEM))
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
