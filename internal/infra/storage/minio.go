package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
)

const (
	folderRoot   = "folders/"
	folderMarker = ".folder"
	presignTTL   = 7 * 24 * time.Hour
)

// Store is the MinIO/S3 Drive: a folder is a key prefix holding a marker object.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string

	mu           sync.Mutex
	publicFolder map[string]bool
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region, publicFolder: map[string]bool{}}, nil
}

func folderPrefix(name string) string {
	return folderRoot + strings.Trim(name, "/") + "/"
}

// ResolveOrCreateFolder finds the folder by exact name, writing its marker if absent.
func (s *Store) ResolveOrCreateFolder(ctx context.Context, name string) (domain.FolderID, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("folder name is empty")
	}
	prefix := folderPrefix(name)
	marker := prefix + folderMarker

	_, err := s.client.StatObject(ctx, s.bucketName, marker, minio.StatObjectOptions{})
	if err == nil {
		return domain.FolderID(prefix), nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("stat folder %s: %w", name, err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", name, err)
	}
	return domain.FolderID(prefix), nil
}

// FindFolder reports whether the folder's marker exists; it never writes.
func (s *Store) FindFolder(ctx context.Context, name string) (domain.FolderID, bool, error) {
	if strings.TrimSpace(name) == "" {
		return "", false, fmt.Errorf("folder name is empty")
	}
	prefix := folderPrefix(name)
	_, err := s.client.StatObject(ctx, s.bucketName, prefix+folderMarker, minio.StatObjectOptions{})
	if err == nil {
		return domain.FolderID(prefix), true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return "", false, nil
	}
	return "", false, fmt.Errorf("stat folder %s: %w", name, err)
}

// Upload implementasi Drive
func (s *Store) Upload(ctx context.Context, localPath string, folder domain.FolderID) (domain.UploadedFile, error) {
	key := string(folder) + filepath.Base(localPath)
	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return domain.UploadedFile{}, err
	}
	return domain.UploadedFile{ID: key, ViewURL: s.objectURL(key)}, nil
}

// MakePublicReadable grants anonymous GetObject on the object's folder prefix.
// The bucket policy is rebuilt from every folder made public by this process.
func (s *Store) MakePublicReadable(ctx context.Context, id string) error {
	prefix := path.Dir(id) + "/"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publicFolder[prefix] {
		return nil
	}
	s.publicFolder[prefix] = true

	policy, err := s.buildPolicy()
	if err != nil {
		delete(s.publicFolder, prefix)
		return err
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucketName, policy); err != nil {
		delete(s.publicFolder, prefix)
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

type policyDoc struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func (s *Store) buildPolicy() (string, error) {
	prefixes := make([]string, 0, len(s.publicFolder))
	for p := range s.publicFolder {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	resources := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		resources = append(resources, fmt.Sprintf("arn:aws:s3:::%s/%s*", s.bucketName, p))
	}
	doc := policyDoc{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  resources,
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ListChildren lists the objects of a folder, excluding its marker.
func (s *Store) ListChildren(ctx context.Context, folder domain.FolderID) ([]domain.DriveFile, error) {
	var out []domain.DriveFile
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    string(folder),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, string(folder))
		if name == folderMarker || name == "" {
			continue
		}
		f := domain.DriveFile{ID: obj.Key, Name: name, ViewURL: s.objectURL(obj.Key)}
		if u, err := s.client.PresignedGetObject(ctx, s.bucketName, obj.Key, presignTTL, nil); err == nil {
			f.DownloadURL = u.String()
		}
		out = append(out, f)
	}
	return out, nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func (s *Store) objectURL(key string) string {
	// URL publik (jika bucket public), kalau private pakai presigned URL dari ListChildren
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, key)
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".html":
		return "text/html"
	}
	return "application/octet-stream"
}
