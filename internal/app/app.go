// Package app wires the application: storage, directory-server client,
// photo store, lock manager and the scheduled sync loop.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"contact-sync/internal/carddav"
	"contact-sync/internal/common/logging"
	"contact-sync/internal/config"
	"contact-sync/internal/contentstore"
	"contact-sync/internal/locks"
	"contact-sync/internal/models"
	"contact-sync/internal/redis"
	"contact-sync/internal/storage"
	syncer "contact-sync/internal/sync"
)

// App holds the wired components of one running process.
type App struct {
	cfg    *config.Config
	logger logging.Logger

	store       storage.Storage
	redisClient *redis.Client
	lockManager locks.Manager
	photos      *contentstore.Store

	connection *models.Connection
	puller     *syncer.Puller
	pusher     *syncer.Pusher
}

// New builds the application from config. Optional collaborators
// (Redis, S3) are wired only when configured.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	store, err := storage.New(ctx, storage.Config{
		Type: cfg.StorageType,
		Path: cfg.DatabasePath,
		DSN:  cfg.PostgresDSN(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.store = store

	if cfg.RedisEnabled() {
		client, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			app.Cleanup()
			return nil, err
		}
		app.redisClient = client
		app.lockManager = locks.NewRedsyncManager(client)
		logger.Info("distributed locking enabled", logging.String("redis", cfg.RedisAddress))
	} else {
		app.lockManager = locks.NewMemoryManager()
	}

	if cfg.PhotoStoreEnabled() {
		blobs, err := contentstore.NewS3Store(ctx, contentstore.S3Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			app.Cleanup()
			return nil, err
		}
		app.photos = contentstore.New(blobs, logger)
		logger.Info("photo store enabled", logging.String("bucket", cfg.S3Bucket))
	}

	conn, err := app.ensureConnection(ctx)
	if err != nil {
		app.Cleanup()
		return nil, err
	}
	app.connection = conn

	client := carddav.NewHTTPClient(cfg.ServerURL, cfg.Username, cfg.Password)
	app.puller = syncer.NewPuller(client, app.store, app.photos, logger)
	app.pusher = syncer.NewPusher(client, app.store, app.photos, logger)
	return app, nil
}

// ensureConnection loads or creates the connection row for the
// configured server account. The id is derived from the server URL and
// username so restarts converge on the same row.
func (a *App) ensureConnection(ctx context.Context) (*models.Connection, error) {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(a.cfg.ServerURL+"\n"+a.cfg.Username)).String()
	if conn, err := a.store.GetConnection(ctx, id); err == nil {
		return conn, nil
	}
	conn := &models.Connection{
		ID:        id,
		Name:      a.cfg.ConnectionName,
		ServerURL: a.cfg.ServerURL,
		Username:  a.cfg.Username,
		Password:  a.cfg.Password,
	}
	if err := a.store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	a.logger.Info("connection registered",
		logging.String("connection", conn.ID),
		logging.String("server", conn.ServerURL))
	return conn, nil
}

// Cleanup releases held resources in reverse wiring order.
func (a *App) Cleanup() {
	if a.lockManager != nil {
		a.lockManager.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
