package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"medisync/internal/config"
	"medisync/internal/database"
	"medisync/internal/domain"
	"medisync/internal/middleware"
	syncmod "medisync/internal/modules/sync"
	"medisync/internal/modules/viewer"
	"medisync/internal/pkg/reference"
	"medisync/internal/repository"
	"medisync/internal/store"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal(err)
	}

	if err := db.AutoMigrate(
		&domain.UploadSession{},
		&domain.Collection{},
		&domain.Group{},
		&domain.Artifact{},
	); err != nil {
		log.Fatal(err)
	}

	var blobs store.BlobStore
	nativePresign := false
	switch cfg.Blob.Backend {
	case "s3":
		blobs, err = store.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.Secure)
		nativePresign = true
	default:
		blobs, err = store.NewFSStore(cfg.Blob.BaseDir)
	}
	if err != nil {
		log.Fatal(err)
	}

	sessionRepo := repository.NewSessionRepository(db)
	collectionRepo := repository.NewCollectionRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)

	syncService, err := syncmod.NewService(sessionRepo, collectionRepo, artifactRepo, blobs, cfg.Blob.SpoolDir)
	if err != nil {
		log.Fatal(err)
	}
	syncHandler := syncmod.NewHandler(syncService)

	signer := reference.NewSigner(cfg.RefSecret, time.Hour)
	viewerService := viewer.NewService(collectionRepo, artifactRepo, blobs, signer, nativePresign)
	viewerHandler := viewer.NewHandler(viewerService)

	r := gin.Default()
	r.Use(middleware.ErrorLogger())

	v1 := r.Group("/api/v1")
	{
		// viewer read side (reference redemption is token-gated on its own)
		viewerHandler.RegisterRoutes(v1)

		// ingest surface, guarded by the shared device token
		ingest := v1.Group("/")
		ingest.Use(middleware.DeviceTokenAuth(cfg.DeviceToken))
		{
			syncHandler.RegisterRoutes(ingest)
		}
	}

	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}
