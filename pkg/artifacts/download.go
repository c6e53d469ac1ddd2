// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/storygen/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// copyBytesBar copies bytes from an io.Reader to an io.Writer while displaying a progressbar.
// It requires knowing the contentLength.
type copyBytesBar struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	amountWritten                 int64
	barUnit, numUnits, addedUnits int64
}

func newCopyBytesBar(w io.Writer, name string, contentLength int64) *copyBytesBar {
	bar := &copyBytesBar{w: w, barUnit: 1}
	for contentLength > bar.barUnit*1024*1024 {
		bar.barUnit *= 1024
	}
	bar.numUnits = (contentLength + bar.barUnit - 1) / bar.barUnit
	bar.bar = progressbar.NewOptions64(bar.numUnits,
		progressbar.OptionSetDescription(name+" ("+humanize.IBytes(uint64(contentLength))+")"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionOnCompletion(func() { _, _ = os.Stderr.WriteString("\n") }),
		progressbar.OptionSetWriter(os.Stderr),
	)
	return bar
}

// Write implements io.Writer, while updating the progress bar.
func (bar *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = bar.w.Write(p)
	bar.amountWritten += int64(n)
	toUnits := bar.amountWritten / bar.barUnit
	if toUnits > bar.addedUnits {
		_ = bar.bar.Add64(toUnits - bar.addedUnits)
		bar.addedUnits = toUnits
	}
	return
}

// download fetches url into filePath, creating its directory if needed.
//
// The contents are first written to a temporary file in the same directory, renamed to filePath
// only once complete, so an interrupted download never leaves a truncated artifact behind.
func download(ctx context.Context, client *http.Client, url, filePath string, showProgressBar bool) (size int64, err error) {
	if err = os.MkdirAll(filepath.Dir(filePath), 0o777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for the path %q", filePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid url %q", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.partial")
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating temporary file for %q", filePath)
	}
	defer func() {
		if err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpFile.Name())
		}
	}()

	if showProgressBar && resp.ContentLength > 0 {
		bar := newCopyBytesBar(tmpFile, filepath.Base(filePath), resp.ContentLength)
		size, err = io.Copy(bar, resp.Body)
		if bar.addedUnits < bar.numUnits {
			_ = bar.bar.Add64(bar.numUnits - bar.addedUnits)
		}
		_ = bar.bar.Close()
	} else {
		size, err = io.Copy(tmpFile, resp.Body)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = tmpFile.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", tmpFile.Name())
	}
	if err = os.Rename(tmpFile.Name(), filePath); err != nil {
		return 0, errors.Wrapf(err, "failed moving download to %q", filePath)
	}
	klog.V(1).Infof("Downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// downloadIfMissing downloads url into filePath if it doesn't exist yet. If checkHash is not
// empty, the file's sha256 is validated against it.
func downloadIfMissing(ctx context.Context, client *http.Client, url, filePath, checkHash string, showProgressBar bool) error {
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		if _, err = download(ctx, client, url, filePath, showProgressBar); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}
