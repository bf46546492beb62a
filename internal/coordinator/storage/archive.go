package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// ArchiveStore keeps uploaded chunk zips under a base URL, one file per chunk
// at <base>/<jobID>/<executorID>/<chunkID>.zip. Any afs-supported scheme
// works; plain paths are treated as local files.
type ArchiveStore struct {
	baseURL string
	fs      afs.Service
}

func NewArchiveStore(ctx context.Context, baseURL string) (*ArchiveStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	fs := afs.New()
	baseURL = url.Normalize(baseURL, file.Scheme)

	exists, _ := fs.Exists(ctx, baseURL)
	if !exists {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create archive store %s: %w", baseURL, err)
		}
	}

	return &ArchiveStore{baseURL: baseURL, fs: fs}, nil
}

func (s *ArchiveStore) Save(ctx context.Context, jobID, executorID, chunkID string, data []byte) (string, error) {
	location := url.Join(s.baseURL, path.Join(jobID, executorID, chunkID+".zip"))
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store archive %s: %w", location, err)
	}
	return location, nil
}
