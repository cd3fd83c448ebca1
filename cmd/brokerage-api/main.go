package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nurpe/brokerage/internal/auth"
	"github.com/nurpe/brokerage/internal/config"
	"github.com/nurpe/brokerage/internal/db"
	"github.com/nurpe/brokerage/internal/excel"
	httphandler "github.com/nurpe/brokerage/internal/http"
	"github.com/nurpe/brokerage/internal/http/middleware"
	"github.com/nurpe/brokerage/internal/logger"
	"github.com/nurpe/brokerage/internal/metrics"
	"github.com/nurpe/brokerage/internal/pdf"
	"github.com/nurpe/brokerage/internal/repository"
	"github.com/nurpe/brokerage/internal/service"
	"github.com/nurpe/brokerage/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)
	ctx := context.Background()

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	contractRepo := repository.NewContractRepository(database)
	lookupRepo := repository.NewLookupRepository(database)
	userRepo := repository.NewUserRepository(database)

	stager, err := storage.New(ctx, cfg.Attachments)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Attachments.Backend).Msg("failed to init attachment storage")
	}

	var (
		m               *metrics.Metrics
		workflowMetrics service.WorkflowMetrics
	)
	if cfg.MetricsEnabled {
		m = metrics.New()
		workflowMetrics = m
	}

	pdfGenerator, err := pdf.NewGenerator(cfg.Export.PDFFontPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init pdf generator")
	}

	contractService := service.NewContractService(contractRepo, lookupRepo, stager, workflowMetrics, log)
	exportService := service.NewExportService(contractService, excel.NewGenerator(), pdfGenerator)

	tokens := auth.NewTokenManager(cfg.Auth.AccessSecret, cfg.Auth.AccessTTL)
	authService := service.NewAuthService(userRepo, tokens, log)

	routerCfg := httphandler.RouterConfig{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        m,
	}
	if cfg.Attachments.Backend == config.AttachmentsBackendLocal {
		routerCfg.UploadsDir = cfg.Attachments.Dir
		routerCfg.UploadsPrefix = cfg.Attachments.URLPrefix
	}

	handler := httphandler.NewHandler(contractService, exportService, authService, stager, userRepo, log)
	router := httphandler.NewRouter(handler, middleware.Auth(authService, log), routerCfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Str("attachments", cfg.Attachments.Backend).Msg("starting brokerage api")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
