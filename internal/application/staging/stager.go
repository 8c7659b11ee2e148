package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/gap-analyzer/internal/domain/gap"
	"github.com/bryanwahyu/gap-analyzer/internal/domain/storage"
)

const (
	reportsDir     = "reports"
	defaultTimeout = 30 * time.Second
	defaultBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// reportExt maps the Content-Type of an extensionless report to its extension.
var reportExt = map[string]string{
	"application/pdf":  ".pdf",
	"application/json": ".json",
	"application/zip":  ".zip",
	"text/html":        ".html",
	"text/plain":       ".txt",
	"text/csv":         ".csv",
	"image/png":        ".png",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
}

// Stager moves files between remote sources, the session sandbox and shared storage.
// Stager is safe for concurrent use by many sessions.
type Stager struct {
	Drive   storage.Drive
	HTTP    *http.Client
	Timeout time.Duration // per download attempt
	Retries int           // attempts for idempotent calls
	Backoff time.Duration

	folders singleflight.Group
}

func New(drive storage.Drive, timeout time.Duration, retries int, backoff time.Duration) *Stager {
	return &Stager{
		Drive:   drive,
		HTTP:    &http.Client{},
		Timeout: timeout,
		Retries: retries,
		Backoff: backoff,
	}
}

// retryableError marks failures worth another attempt (5xx, timeouts, resets).
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// StatusError is a non-2xx download response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Stage downloads every file into sandboxDir. Files that fail are logged and
// dropped; the returned slice only holds staged files.
func (s *Stager) Stage(ctx context.Context, files []gap.InputFile, sandboxDir string) []gap.InputFile {
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", sandboxDir).Msg("cannot create sandbox")
		return nil
	}
	staged := make([]gap.InputFile, 0, len(files))
	for _, f := range files {
		dest := filepath.Join(sandboxDir, filepath.Base(f.FileName))
		if err := s.Download(ctx, f.SourceURL, dest); err != nil {
			log.Warn().Err(err).Str("file", f.FileName).Msg("download failed, file dropped")
			continue
		}
		f.LocalPath = dest
		staged = append(staged, f)
		log.Debug().Str("file", f.FileName).Str("path", dest).Msg("staged")
	}
	return staged
}

// Download fetches rawURL into dest, retrying transient failures with backoff.
func (s *Stager) Download(ctx context.Context, rawURL, dest string) error {
	_, err := s.fetch(ctx, rawURL, dest)
	return err
}

// fetch is Download that also returns the headers of the successful response.
func (s *Stager) fetch(ctx context.Context, rawURL, dest string) (http.Header, error) {
	var hdr http.Header
	err := s.retry(ctx, func() error {
		h, err := s.downloadOnce(ctx, rawURL, dest)
		hdr = h
		return err
	})
	return hdr, err
}

func (s *Stager) downloadOnce(ctx context.Context, rawURL, dest string) (http.Header, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retryableError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{URL: rawURL, Code: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retryableError{serr}
		}
		return nil, serr
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		var nerr net.Error
		if errors.As(err, &nerr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, retryableError{err}
		}
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, err
	}
	return resp.Header, nil
}

// Publish uploads localPath into the session's folder, makes it readable and returns its link.
func (s *Stager) Publish(ctx context.Context, localPath string, session gap.Session) (string, error) {
	folder, err := s.Folder(ctx, session)
	if err != nil {
		return "", err
	}
	var up storage.UploadedFile
	err = s.retry(ctx, func() error {
		var uerr error
		up, uerr = s.Drive.Upload(ctx, localPath, folder)
		if uerr != nil {
			return retryableError{uerr}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(localPath), err)
	}
	if err := s.Drive.MakePublicReadable(ctx, up.ID); err != nil {
		return "", fmt.Errorf("share %s: %w", filepath.Base(localPath), err)
	}
	return up.ViewURL, nil
}

// Folder returns the session's storage folder. A caller-supplied StorageTarget is
// used as is; otherwise the folder is resolved by session id, one lookup per name
// at a time across concurrent publishes.
func (s *Stager) Folder(ctx context.Context, session gap.Session) (storage.FolderID, error) {
	if session.StorageTarget != "" {
		return storage.FolderID(session.StorageTarget), nil
	}
	v, err, _ := s.folders.Do(session.SessionID, func() (any, error) {
		return s.Drive.ResolveOrCreateFolder(ctx, session.SessionID)
	})
	if err != nil {
		return "", fmt.Errorf("resolve folder %s: %w", session.SessionID, err)
	}
	return v.(storage.FolderID), nil
}

// Collect downloads each report artifact into <sandbox>/reports and republishes it.
// Every artifact gets its own name even when urls share a path. Failures are logged
// and skipped; only published artifacts are returned.
func (s *Stager) Collect(ctx context.Context, urls []string, sandboxDir string, session gap.Session) []gap.ChartArtifact {
	out := make([]gap.ChartArtifact, 0, len(urls))
	dir := filepath.Join(sandboxDir, reportsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("cannot create report dir")
		return out
	}
	used := map[string]bool{}
	for i, u := range urls {
		lg := log.With().Str("session_id", session.SessionID).Str("artifact", u).Logger()

		part := filepath.Join(dir, fmt.Sprintf(".artifact_%d", i+1))
		hdr, err := s.fetch(ctx, u, part)
		if err != nil {
			lg.Warn().Err(err).Msg("failed to download report artifact")
			continue
		}
		name := uniqueName(artifactName(u, i, hdr), used)
		dest := filepath.Join(dir, name)
		if err := os.Rename(part, dest); err != nil {
			os.Remove(part)
			lg.Warn().Err(err).Msg("failed to store report artifact")
			continue
		}
		link, err := s.Publish(ctx, dest, session)
		if err != nil {
			lg.Warn().Err(err).Msg("failed to publish report artifact")
			continue
		}
		out = append(out, gap.ChartArtifact{Key: name, LocalPath: dest, RemoteURL: link})
	}
	return out
}

// artifactName picks the file name of the i-th report: the Content-Disposition
// filename, else the url path base, else report_<i+1>. A name without an
// extension borrows one from Content-Type.
func artifactName(rawURL string, i int, hdr http.Header) string {
	name := ""
	if _, params, err := mime.ParseMediaType(hdr.Get("Content-Disposition")); err == nil {
		name = safeName(params["filename"])
	}
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = safeName(path.Base(u.Path))
		}
	}
	if name == "" {
		name = fmt.Sprintf("report_%d", i+1)
	}
	if filepath.Ext(name) == "" {
		if mt, _, err := mime.ParseMediaType(hdr.Get("Content-Type")); err == nil {
			name += reportExt[mt]
		}
	}
	return name
}

func safeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == ".." || strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

// uniqueName suffixes _2, _3, ... before the extension while name is taken.
func uniqueName(name string, used map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}

func (s *Stager) client() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return http.DefaultClient
}

// retry runs fn up to Retries times while it returns a retryableError,
// doubling the backoff up to 2s between attempts.
func (s *Stager) retry(ctx context.Context, fn func() error) error {
	attempts := s.Retries
	if attempts < 1 {
		attempts = 1
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var re retryableError
		if !errors.As(err, &re) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	var re retryableError
	if errors.As(lastErr, &re) {
		return re.err
	}
	return lastErr
}

// Files lists what the session folder currently holds. It only looks folders up:
// a session that never published anything has no folder and lists empty.
func (s *Stager) Files(ctx context.Context, session gap.Session) ([]storage.DriveFile, error) {
	folder := storage.FolderID(session.StorageTarget)
	if folder == "" {
		id, ok, err := s.Drive.FindFolder(ctx, session.SessionID)
		if err != nil {
			return nil, fmt.Errorf("find folder %s: %w", session.SessionID, err)
		}
		if !ok {
			return []storage.DriveFile{}, nil
		}
		folder = id
	}
	return s.Drive.ListChildren(ctx, folder)
}
