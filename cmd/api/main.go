package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/linguahub/lingua-api/internal/config"
	"github.com/linguahub/lingua-api/internal/database"
	"github.com/linguahub/lingua-api/internal/handler"
	"github.com/linguahub/lingua-api/internal/middleware"
	"github.com/linguahub/lingua-api/internal/models"
	"github.com/linguahub/lingua-api/internal/repository"
	"github.com/linguahub/lingua-api/internal/router"
	"github.com/linguahub/lingua-api/internal/service"
	cloud "github.com/linguahub/lingua-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.Message{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	chatRepo := repository.NewChatRepository(db)

	chatService := service.NewChatService(chatRepo, userRepo, cfg.MessagePageSize, validate, logger)
	authService := service.NewAuthService(userRepo, service.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}, validate, logger)
	groupService := service.NewGroupService(groupRepo, chatRepo, userRepo, chatService, validate, logger)
	userService := service.NewUserService(userRepo, validate, logger)
	uploadService := service.NewUploadService(uploader, cfg.UploadMaxSizeMB, logger)

	presence := service.NewPresenceCoordinator(cfg.TypingWindow)
	gateway := service.NewChatGateway(chatService, presence, redisClient, natsConn, cfg.ChatChannelBase, logger)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gateway.Start(rootCtx)

	authHandler := handler.NewAuthHandler(authService, logger)
	chatHandler := handler.NewChatHandler(chatService, gateway, logger)
	groupHandler := handler.NewGroupHandler(groupService, logger)
	userHandler := handler.NewUserHandler(userService, logger)
	uploadHandler := handler.NewUploadHandler(uploadService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:   authHandler,
		ChatHandler:   chatHandler,
		GroupHandler:  groupHandler,
		UserHandler:   userHandler,
		UploadHandler: uploadHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func waitForShutdown(app *fiber.App, cancel context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	cancel()

	ctx, timeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeout()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
