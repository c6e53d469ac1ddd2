// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: home directory expansion,
// existence checks and checksums of downloaded artifacts.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// MustFileExists returns whether the file or directory exists.
// It panics on file system errors.
func MustFileExists(path string) bool {
	exists, err := FileExists(path)
	if err != nil {
		panic(err)
	}
	return exists
}

// ReplaceTildeInDir replaces a leading "~" or "~user" by the user's home directory.
// It returns dir unchanged if it doesn't start with "~".
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// MustReplaceTildeInDir is like ReplaceTildeInDir, but panics on error.
func MustReplaceTildeInDir(dir string) string {
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		panic(err)
	}
	return dir
}

// ValidateChecksum checks that the sha256 of the file at path is checkHash (hex encoded).
// On a mismatch the file is removed, so a later download starts afresh.
func ValidateChecksum(path, checkHash string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q to validate checksum", path)
	}
	hasher := sha256.New()
	_, err = io.Copy(hasher, f)
	_ = f.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to read %q to validate checksum", path)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash == strings.ToLower(checkHash) {
		return nil
	}
	if e2 := os.Remove(path); e2 != nil {
		klog.Errorf("Failed to remove %q, which failed the checksum test, please remove it: %+v", path, e2)
	}
	return errors.Errorf("file %q sha256 hash is %q, but expected %q, file removed", path, fileHash, checkHash)
}
