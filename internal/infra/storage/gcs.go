package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
)

// GCSStore is the Cloud Storage Drive. Folder markers are written with a
// DoesNotExist precondition, so concurrent creation cannot duplicate a folder.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket must be provided")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) ResolveOrCreateFolder(ctx context.Context, name string) (domain.FolderID, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("folder name is empty")
	}
	prefix := folderPrefix(name)
	obj := g.client.Bucket(g.bucket).Object(prefix + folderMarker)

	_, err := obj.Attrs(ctx)
	if err == nil {
		return domain.FolderID(prefix), nil
	}
	if !errors.Is(err, gcs.ErrObjectNotExist) {
		return "", fmt.Errorf("stat folder %s: %w", name, err)
	}

	w := obj.If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/x-directory"
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return domain.FolderID(prefix), nil
		}
		return "", fmt.Errorf("create folder %s: %w", name, err)
	}
	return domain.FolderID(prefix), nil
}

func (g *GCSStore) FindFolder(ctx context.Context, name string) (domain.FolderID, bool, error) {
	if strings.TrimSpace(name) == "" {
		return "", false, fmt.Errorf("folder name is empty")
	}
	prefix := folderPrefix(name)
	_, err := g.client.Bucket(g.bucket).Object(prefix + folderMarker).Attrs(ctx)
	switch {
	case err == nil:
		return domain.FolderID(prefix), true, nil
	case errors.Is(err, gcs.ErrObjectNotExist):
		return "", false, nil
	}
	return "", false, fmt.Errorf("stat folder %s: %w", name, err)
}

func (g *GCSStore) Upload(ctx context.Context, localPath string, folder domain.FolderID) (domain.UploadedFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return domain.UploadedFile{}, err
	}
	defer f.Close()

	key := string(folder) + filepath.Base(localPath)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return domain.UploadedFile{}, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return domain.UploadedFile{ID: key, ViewURL: g.viewURL(key)}, nil
}

func (g *GCSStore) MakePublicReadable(ctx context.Context, id string) error {
	return g.client.Bucket(g.bucket).Object(id).ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader)
}

func (g *GCSStore) ListChildren(ctx context.Context, folder domain.FolderID) ([]domain.DriveFile, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: string(folder)})
	var out []domain.DriveFile
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(attrs.Name, string(folder))
		if name == folderMarker || name == "" {
			continue
		}
		out = append(out, domain.DriveFile{
			ID:          attrs.Name,
			Name:        name,
			ViewURL:     g.viewURL(attrs.Name),
			DownloadURL: attrs.MediaLink,
		})
	}
	return out, nil
}

// Ping checks that the bucket is reachable.
func (g *GCSStore) Ping(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	return err
}

func (g *GCSStore) Close() error { return g.client.Close() }

func (g *GCSStore) viewURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}
