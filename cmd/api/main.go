package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "formio-api/api/swagger" // swagger docs
	"formio-api/internal/action"
	"formio-api/internal/cache"
	"formio-api/internal/config"
	"formio-api/internal/database"
	"formio-api/internal/fieldaction"
	"formio-api/internal/handler"
	"formio-api/internal/logger"
	"formio-api/internal/middleware"
	"formio-api/internal/observability"
	"formio-api/internal/repository"
	"formio-api/internal/repository/memory"
	"formio-api/internal/sandbox"
	"formio-api/internal/service"
	"formio-api/internal/submission"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "formio-api"

// stores groups the repositories of one storage backend.
type stores struct {
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
	actions     repository.ActionRepository
	roles       repository.RoleRepository
	schema      repository.SchemaRepository
	tx          repository.TransactionManager
}

// @title           Forms API
// @version         1.0
// @description     Form definitions, submissions, actions and roles.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, envLoaded := config.Load()

	appLog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer appLog.Sync()
	if !envLoaded {
		appLog.Info("No configs/.env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, appLog, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: serviceName,
		Version:     database.SchemaVersion,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			appLog.Warn("OpenTelemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("Storage init failed", "error", err)
	}

	// Form cache
	var formCache cache.FormCache
	if cfg.RedisAddr != "" {
		rc, rdb, err := cache.NewRedisFormCache(cfg.RedisAddr, cfg.FormCacheTTL, appLog)
		if err != nil {
			appLog.Fatal("Redis connection failed", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
		formCache = rc
		appLog.Info("Form cache: redis", "addr", cfg.RedisAddr)
	} else {
		formCache = cache.NewMemoryFormCache(cfg.FormCacheTTL, time.Now)
		appLog.Info("Form cache: in-process")
	}
	forms := cache.NewForms(st.forms, formCache)
	schemaCheck := cache.NewSchemaCheckCache(st.schema, database.SchemaVersion, nil)

	// Submission pipeline and actions
	secret := []byte(cfg.JWTSecret)
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	evaluator := sandbox.New(cfg.SandboxTimeout, appLog)
	pipeline := submission.NewPipeline(submission.Config{
		Forms:       forms,
		Submissions: st.submissions,
		Tx:          st.tx,
		Evaluator:   evaluator,
		Fetchers:    fieldaction.NewFetcherFactory(httpClient, evaluator, secret, cfg.JWTExpire),
		Hooks:       fieldaction.Hooks(fieldaction.Deps{Forms: forms, Submissions: st.submissions}),
		Collation:   cfg.UniqueCollation != "",
		Log:         appLog,
	})
	registry := action.DefaultRegistry()
	engine := action.NewEngine(registry, st.actions, &action.Deps{
		Forms:       forms,
		Submissions: st.submissions,
		Roles:       st.roles,
		HTTPClient:  httpClient,
		Log:         appLog,
	})
	engine.SetProcessor(pipeline)
	pipeline.SetActions(engine)

	// Set up dependencies (Repository -> Service -> Handler)
	formService := service.NewFormService(st.forms, forms)
	actionService := service.NewActionService(forms, st.actions, registry)
	roleService := service.NewRoleService(st.roles)
	bulkService := service.NewBulkService(forms, st.submissions, st.tx, pipeline, service.BulkConfig{
		MaxItems:    cfg.MaxBulkSubmission,
		Concurrency: cfg.BulkConcurrency,
	}, appLog)

	if err := roleService.SeedDefaultRoles(ctx); err != nil {
		appLog.Fatal("Seeding roles failed", "error", err)
	}

	authenticator := middleware.NewAuthenticator(secret, st.roles)

	// Initialize Handlers
	formHandler := handler.NewFormHandler(formService)
	actionHandler := handler.NewActionHandler(actionService)
	roleHandler := handler.NewRoleHandler(roleService, authenticator)
	submissionHandler := handler.NewSubmissionHandler(pipeline)
	bulkHandler := handler.NewBulkHandler(bulkService)

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(middleware.RequestLogger(appLog))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "x-jwt-token"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{"Content-Range", "x-jwt-token"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		if err := schemaCheck.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "UNAVAILABLE"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// API Routing
	api := router.Group("")
	api.Use(middleware.RequireSchema(schemaCheck), authenticator.Authenticate())
	formHandler.RegisterRoutes(api)
	actionHandler.RegisterRoutes(api)
	roleHandler.RegisterRoutes(api)
	submissionHandler.RegisterRoutes(api)
	bulkHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLog.Info("Server listening", "port", cfg.Port, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server shutdown failed", "error", err)
	}
}

// openStores connects the configured storage backend and brings its schema
// up to date.
func openStores(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (*stores, error) {
	owner, _ := os.Hostname()
	if owner == "" {
		owner = serviceName
	}

	if cfg.Storage == "memory" {
		store := memory.New()
		appLog.Warn("Using in-memory storage; data is lost on restart")
		if err := database.Initialize(ctx, store.Schema(), owner, appLog, func(context.Context) error { return nil }); err != nil {
			return nil, err
		}
		return &stores{
			forms:       store.Forms(),
			submissions: store.Submissions(),
			actions:     store.Actions(),
			roles:       store.Roles(),
			schema:      store.Schema(),
			tx:          store.TxManager(),
		}, nil
	}

	db, err := database.NewConnection(cfg.DSN(), cfg.LogMode != "prod")
	if err != nil {
		return nil, err
	}
	appLog.Info("Connected to PostgreSQL successfully")

	schema := repository.NewSchemaRepository(db)
	if err := database.Migrate(ctx, db, schema, owner, appLog); err != nil {
		return nil, err
	}
	return &stores{
		forms:       repository.NewFormRepository(db),
		submissions: repository.NewSubmissionRepository(db, cfg.UniqueCollation),
		actions:     repository.NewActionRepository(db),
		roles:       repository.NewRoleRepository(db),
		schema:      schema,
		tx:          repository.NewTransactionManager(db),
	}, nil
}
