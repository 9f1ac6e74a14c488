package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"google.golang.org/api/option"

	"github.com/replit/object-storage-go/backend"
	"github.com/replit/object-storage-go/internal/config"
	"github.com/replit/object-storage-go/objectstorage"
)

// openClient builds an objectstorage.Client for the configured backend. The
// returned cleanup closes both the client and any backend opened here.
func openClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*objectstorage.Client, func(), error) {
	opts := []objectstorage.Option{
		objectstorage.WithLogger(logger),
		objectstorage.WithSidecarURL(cfg.Sidecar.URL),
	}
	if cfg.Bucket != "" {
		opts = append(opts, objectstorage.WithBucketID(cfg.Bucket))
	}
	if t := cfg.Sidecar.Timeout(); t > 0 {
		opts = append(opts, objectstorage.WithHTTPClient(&http.Client{Timeout: t}))
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if b != nil {
		opts = append(opts, objectstorage.WithBackend(b))
	} else {
		// Sidecar-authenticated GCS, owned by the client.
		if cfg.Backend.GCS.Endpoint != "" {
			opts = append(opts, objectstorage.WithGCSOptions(option.WithEndpoint(cfg.Backend.GCS.Endpoint)))
		}
		if cfg.Backend.GCS.Transport == "grpc" {
			opts = append(opts, objectstorage.WithGRPC())
		}
	}

	client, err := objectstorage.New(ctx, opts...)
	if err != nil {
		if b != nil {
			b.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close client", "error", err)
		}
		if b != nil {
			if err := b.Close(); err != nil {
				logger.Warn("Failed to close backend", "error", err)
			}
		}
	}
	return client, cleanup, nil
}

// openBackend opens the configured storage backend. It returns nil for the
// default GCS backend, which objectstorage.New constructs itself using
// sidecar credentials.
func openBackend(ctx context.Context, cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendGCS:
		if !cfg.Backend.GCS.WithoutAuth {
			return nil, nil
		}
		gcsOpts := []option.ClientOption{option.WithoutAuthentication()}
		if cfg.Backend.GCS.Endpoint != "" {
			gcsOpts = append(gcsOpts, option.WithEndpoint(cfg.Backend.GCS.Endpoint))
		}
		if cfg.Backend.GCS.Transport == "grpc" {
			return backend.NewGCSGRPC(ctx, gcsOpts...)
		}
		return backend.NewGCS(ctx, gcsOpts...)

	case config.BackendS3:
		s3 := cfg.Backend.S3
		return backend.NewS3(ctx, backend.S3Options{
			Region:          s3.Region,
			EndpointURL:     s3.EndpointURL,
			UsePathStyle:    s3.UsePathStyle,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
		})

	case config.BackendAzure:
		az := cfg.Backend.Azure
		if az.AccountURL == "" && az.ConnectionString == "" {
			return nil, fmt.Errorf("backend.azure.account_url or backend.azure.connection_string is required when backend is 'azure'")
		}
		return backend.NewAzure(backend.AzureOptions{
			AccountURL:         az.AccountURL,
			ConnectionString:   az.ConnectionString,
			UseManagedIdentity: az.UseManagedIdentity,
		})

	case config.BackendMemory:
		// A process-local store only holds the explicit bucket.
		if cfg.Bucket == "" {
			return backend.NewMemory(), nil
		}
		return backend.NewMemory(cfg.Bucket), nil

	case config.BackendLocal:
		if err := os.MkdirAll(cfg.Backend.Local.RootDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root directory: %w", err)
		}
		local, err := backend.NewLocal(cfg.Backend.Local.RootDir)
		if err != nil {
			return nil, err
		}
		if cfg.Bucket != "" {
			if err := local.CreateBucket(cfg.Bucket); err != nil {
				return nil, err
			}
		}
		return local, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Backend.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := backend.NewSQLite(cfg.Backend.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Bucket != "" {
			if err := db.CreateBucket(ctx, cfg.Bucket); err != nil {
				db.Close()
				return nil, err
			}
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
}
