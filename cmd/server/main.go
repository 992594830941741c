package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/stockroom/backend/internal/config"
	"github.com/stockroom/backend/internal/database"
	"github.com/stockroom/backend/internal/handlers"
	"github.com/stockroom/backend/internal/middleware"
	"github.com/stockroom/backend/internal/services"
	"github.com/stockroom/backend/internal/storage"
	"github.com/stockroom/backend/pkg/logger"
	"github.com/stockroom/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	accessService := services.NewAccessService(db)
	folderService := services.NewFolderService(db)
	auditService := services.NewAuditService(db, storageClient)
	auditService.StartExporter(cfg.Audit.ExportInterval)
	startGrantSweeper(accessService, cfg.Grants.SweepInterval)

	authHandler := handlers.NewAuthHandler(db, auditService)
	usersHandler := handlers.NewUsersHandler(db)
	foldersHandler := handlers.NewFoldersHandler(db, folderService, accessService, auditService)
	itemsHandler := handlers.NewItemsHandler(db, storageClient, accessService, auditService)
	permissionsHandler := handlers.NewPermissionsHandler(db, accessService, auditService)
	activitiesHandler := handlers.NewActivitiesHandler(db)
	auditHandler := handlers.NewAuditHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 25 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Get("/version", handlers.GetVersion)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	api.Get("/users/search", authMiddleware.RequireAuth, usersHandler.Search)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)
	userRoutes.Delete("/:id", usersHandler.Delete)

	folderRoutes := api.Group("/folders", authMiddleware.RequireAuth)
	folderRoutes.Post("/", foldersHandler.Create)
	folderRoutes.Get("/", foldersHandler.ListRoots)
	folderRoutes.Get("/:id/children", foldersHandler.ListChildren)
	folderRoutes.Get("/:id/path", foldersHandler.Path)
	folderRoutes.Put("/:id/move", foldersHandler.Move)
	folderRoutes.Get("/:id", foldersHandler.Get)
	folderRoutes.Put("/:id", foldersHandler.Update)
	folderRoutes.Delete("/:id", foldersHandler.Delete)

	itemRoutes := api.Group("/items", authMiddleware.RequireAuth)
	itemRoutes.Post("/", itemsHandler.Create)
	itemRoutes.Get("/", itemsHandler.List)
	itemRoutes.Get("/export", itemsHandler.Export)
	itemRoutes.Post("/import", itemsHandler.Import)
	itemRoutes.Put("/:id/quantity", itemsHandler.AdjustQuantity)
	itemRoutes.Post("/:id/photo", itemsHandler.UploadPhoto)
	itemRoutes.Get("/:id/photo", itemsHandler.DownloadPhoto)
	itemRoutes.Get("/:id", itemsHandler.Get)
	itemRoutes.Put("/:id", itemsHandler.Update)
	itemRoutes.Delete("/:id", itemsHandler.Delete)

	permissionRoutes := api.Group("/permissions", authMiddleware.RequireAuth)
	permissionRoutes.Post("/", permissionsHandler.Grant)
	permissionRoutes.Delete("/", permissionsHandler.Revoke)
	permissionRoutes.Get("/check", permissionsHandler.CheckAccess)
	permissionRoutes.Get("/", permissionsHandler.List)

	activityRoutes := api.Group("/activities", authMiddleware.RequireAuth)
	activityRoutes.Get("/", activitiesHandler.List)
	activityRoutes.Get("/unread-count", activitiesHandler.UnreadCount)
	activityRoutes.Put("/read-all", activitiesHandler.MarkAllRead)
	activityRoutes.Put("/:id/read", activitiesHandler.MarkRead)

	api.Get("/audit-log/export", authMiddleware.RequireAuth, auditHandler.ExportMyLog)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"version": handlers.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

// startGrantSweeper periodically removes expired grant rows. Expiry is
// already enforced lazily at check time, so the sweep is purely hygiene.
func startGrantSweeper(access *services.AccessService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			removed, err := access.SweepExpired(context.Background())
			if err != nil {
				logger.Error("grant_sweep_failed", err, nil)
				continue
			}
			if removed > 0 {
				logger.Info("grant_sweep_completed", map[string]interface{}{"removed": removed})
			}
		}
	}()
}
