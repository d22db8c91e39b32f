// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package synth

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
)

// Restore loads every source file already present in the registry's
// dynamic directory, so synthesized capabilities survive restarts. It
// returns the number of capabilities registered. Files that fail to load
// are skipped and their errors joined.
func Restore(ctx context.Context, reg *capability.Registry, loader capability.Loader) (int, error) {
	dir := reg.DynamicDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.New(errors.CodeLoadError, "read dynamic directory", err).WithContext("dir", dir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != capability.SourceExt {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		loaded int
		errs   []error
	)
	for _, n := range names {
		if err := LoadFile(ctx, reg, loader, filepath.Join(dir, n)); err != nil {
			slog.Warn("synth.restore.error", slog.String("file", n), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	slog.Info("synth.restore.complete", slog.String("dir", dir), slog.Int("loaded", loaded), slog.Int("failed", len(errs)))
	return loaded, stderrors.Join(errs...)
}

// LoadFile loads one source file and registers it under its base name.
func LoadFile(ctx context.Context, reg *capability.Registry, loader capability.Loader, path string) error {
	name := strings.TrimSuffix(filepath.Base(path), capability.SourceExt)
	if !capability.ValidName(name) {
		return errors.New(errors.CodeInvalidInput, "invalid capability file name", nil).WithContext("path", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(errors.CodeLoadError, "read capability source", err).WithContext("path", path)
	}
	source := string(data)
	description, schema := capability.DecodeSource(source)

	handler, err := loader.Load(ctx, capability.Pending{
		Name:        name,
		Description: description,
		Source:      source,
		Parameters:  schema,
		Path:        path,
	})
	if err != nil {
		return err
	}
	return reg.RegisterCapability(ctx, capability.Capability{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Handler:     handler,
		Source:      capability.SourceSynth,
		Code:        source,
	})
}
