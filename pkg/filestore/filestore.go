package filestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	DownloadStatusDownloaded = "downloaded"
	DownloadStatusSkipped    = "skipped"
)

// Info describes a local file's existence and size.
type Info struct {
	Exists bool  `json:"exists"`
	Size   int64 `json:"size"`
}

// DownloadResult reports the outcome of a Download call.
type DownloadResult struct {
	Status       string `json:"status"`
	URI          string `json:"uri"`
	BytesWritten int64  `json:"bytes_written"`
}

// Store owns the asset directory: existence probes, byte-range downloads from
// remote URIs, and idempotent deletes. Request timeouts live here; callers
// only react to success or failure.
type Store struct {
	client *http.Client
}

func New(timeout time.Duration) *Store {
	return &Store{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *Store) Info(path string) (*Info, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Info{}, nil
		}
		return nil, errors.WithStack(err)
	}

	return &Info{Exists: true, Size: info.Size()}, nil
}

// Download fetches remoteURI into targetPath. With skipIfExists set, an
// already-present target short-circuits without any network call. The bytes
// are written to a temp file and renamed so a crash mid-download never leaves
// a truncated file at the target path.
func (s *Store) Download(ctx context.Context, remoteURI, targetPath string, skipIfExists bool) (*DownloadResult, error) {
	if skipIfExists {
		if _, err := os.Stat(targetPath); err == nil {
			return &DownloadResult{Status: DownloadStatusSkipped, URI: targetPath}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURI, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(fmt.Sprintf("download failed with status %d for %s", resp.StatusCode, remoteURI))
	}

	partPath := targetPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(partPath)
		return nil, errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return nil, errors.WithStack(err)
	}

	if err := os.Rename(partPath, targetPath); err != nil {
		os.Remove(partPath)
		return nil, errors.WithStack(err)
	}

	return &DownloadResult{
		Status:       DownloadStatusDownloaded,
		URI:          targetPath,
		BytesWritten: written,
	}, nil
}

// Delete removes a file; deleting an already-absent file is not an error.
func (s *Store) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.WithStack(err)
	}
	return nil
}
