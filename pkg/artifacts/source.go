// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/storygen/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Source provides local paths to the artifact files, fetching them first if needed.
type Source interface {
	// Fetch returns the local path of the artifact file with the given name.
	Fetch(ctx context.Context, name string) (string, error)

	// String describes the source, for logging.
	String() string
}

// DirSource reads the artifacts from a local directory.
type DirSource struct {
	dir string
}

// Dir returns a Source that reads the artifact files from the directory path.
// A leading "~" is expanded to the user's home directory.
func Dir(path string) *DirSource {
	return &DirSource{dir: path}
}

// Fetch implements Source.
func (s *DirSource) Fetch(_ context.Context, name string) (string, error) {
	dir, err := fsutil.ReplaceTildeInDir(s.dir)
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(dir, name)
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Errorf("artifact file %q not found", filePath)
	}
	return filePath, nil
}

// String implements Source.
func (s *DirSource) String() string {
	return fmt.Sprintf("dir:%s", s.dir)
}

// URLSource downloads the artifacts over HTTP into a local cache directory.
// Files already in the cache are not downloaded again.
type URLSource struct {
	base            string
	cacheDir        string
	client          *http.Client
	checksums       map[string]string
	showProgressBar bool
}

// URL returns a Source that downloads each artifact file from base + "/" + name into cacheDir.
func URL(base, cacheDir string) *URLSource {
	return &URLSource{
		base:     base,
		cacheDir: cacheDir,
		client:   http.DefaultClient,
	}
}

// WithClient sets the HTTP client used for the downloads. Default is http.DefaultClient.
func (s *URLSource) WithClient(client *http.Client) *URLSource {
	s.client = client
	return s
}

// WithChecksum sets the expected sha256 (hex encoded) of the file name.
// A cached or downloaded file that doesn't match is removed and the fetch fails.
func (s *URLSource) WithChecksum(name, sha256Hex string) *URLSource {
	if s.checksums == nil {
		s.checksums = make(map[string]string)
	}
	s.checksums[name] = sha256Hex
	return s
}

// WithProgressBar enables a progress bar in the terminal while downloading.
func (s *URLSource) WithProgressBar(show bool) *URLSource {
	s.showProgressBar = show
	return s
}

// Fetch implements Source.
func (s *URLSource) Fetch(ctx context.Context, name string) (string, error) {
	fileURL, err := url.JoinPath(s.base, name)
	if err != nil {
		return "", errors.Wrapf(err, "invalid base url %q", s.base)
	}
	cacheDir, err := fsutil.ReplaceTildeInDir(s.cacheDir)
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(cacheDir, path.Base(name))
	if err = downloadIfMissing(ctx, s.client, fileURL, filePath, s.checksums[name], s.showProgressBar); err != nil {
		return "", err
	}
	return filePath, nil
}

// String implements Source.
func (s *URLSource) String() string {
	return fmt.Sprintf("url:%s", s.base)
}

// HubSource downloads the artifacts from a HuggingFace Hub repository, using its local cache.
type HubSource struct {
	repoID          string
	authToken       string
	showProgressBar bool
}

// Hub returns a Source that downloads the artifact files from the HuggingFace repository repoID.
// The authentication token is taken from the HF_TOKEN environment variable, if set.
func Hub(repoID string) *HubSource {
	return &HubSource{repoID: repoID, authToken: os.Getenv("HF_TOKEN")}
}

// WithProgressBar enables a progress bar in the terminal while downloading.
func (s *HubSource) WithProgressBar(show bool) *HubSource {
	s.showProgressBar = show
	return s
}

// Fetch implements Source.
func (s *HubSource) Fetch(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo := hub.New(s.repoID).WithAuth(s.authToken).WithProgressBar(s.showProgressBar)
	filePath, err := repo.DownloadFile(name)
	if err != nil {
		return "", errors.WithMessagef(err, "failed to download %q from HuggingFace repository %q", name, s.repoID)
	}
	return filePath, nil
}

// String implements Source.
func (s *HubSource) String() string {
	return fmt.Sprintf("hf:%s", s.repoID)
}

// ParseSource parses a source specification, as given in the command line:
//
//   - "hf:<repo_id>": a HuggingFace Hub repository.
//   - "http://..." or "https://...": downloaded into cacheDir.
//   - anything else is a local directory, optionally prefixed with "dir:".
func ParseSource(spec, cacheDir string) Source {
	switch {
	case len(spec) > 3 && spec[:3] == "hf:":
		return Hub(spec[3:])
	case len(spec) > 4 && spec[:4] == "dir:":
		return Dir(spec[4:])
	}
	if u, err := url.Parse(spec); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return URL(spec, cacheDir)
	}
	return Dir(spec)
}
