package storage

import "context"

// FolderID identifies a folder (or key prefix) in shared storage.
type FolderID string

// UploadedFile is the result of an upload.
type UploadedFile struct {
	ID      string `json:"id"`
	ViewURL string `json:"view_url"`
}

// DriveFile is a child entry of a folder.
type DriveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ViewURL     string `json:"view_url"`
	DownloadURL string `json:"download_url"`
}

// Drive port (folder-oriented shared storage)
type Drive interface {
	ResolveOrCreateFolder(ctx context.Context, name string) (FolderID, error)
	// FindFolder looks a folder up by name without creating it.
	FindFolder(ctx context.Context, name string) (FolderID, bool, error)
	Upload(ctx context.Context, localPath string, folder FolderID) (UploadedFile, error)
	MakePublicReadable(ctx context.Context, id string) error
	ListChildren(ctx context.Context, folder FolderID) ([]DriveFile, error)
}
