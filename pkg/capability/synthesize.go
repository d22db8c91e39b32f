// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jllopis/ergon/pkg/audit"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
)

// DefaultDynamicDir is where synthesized source is written when no
// directory is configured.
const DefaultDynamicDir = ".ergon/tools"

// SourceExt is the file extension of synthesized source files.
const SourceExt = ".go"

// DynamicDir returns the directory synthesized source is written to.
func (r *Registry) DynamicDir() string {
	return r.dynamicDir
}

// SourcePath returns the file a capability named name is synthesized into.
func (r *Registry) SourcePath(name string) string {
	return filepath.Join(r.dynamicDir, name+SourceExt)
}

// SynthesizeCapability writes source for a new capability, loads it, and
// registers the resulting handler under name. Any existing capability
// with the same name is replaced.
func (r *Registry) SynthesizeCapability(ctx context.Context, name, description, source string, schema Schema) error {
	if !ValidName(name) {
		return errors.New(errors.CodeInvalidInput, "invalid capability name: "+name, nil).
			WithContext("capability", name)
	}
	if r.loader == nil {
		return errors.New(errors.CodeInternal, "no capability loader configured", nil)
	}
	if schema == nil {
		schema = Schema{}
	}

	pending := Pending{
		Name:        name,
		Description: description,
		Source:      EncodeSource(description, schema, source),
		Parameters:  schema,
		Path:        r.SourcePath(name),
	}
	if err := os.MkdirAll(r.dynamicDir, 0o755); err != nil {
		return r.synthesisFailed(ctx, name, errors.New(errors.CodeLoadError, "create dynamic directory", err))
	}
	if err := os.WriteFile(pending.Path, []byte(pending.Source), 0o644); err != nil {
		return r.synthesisFailed(ctx, name, errors.New(errors.CodeLoadError, "write capability source", err))
	}

	handler, err := r.loader.Load(ctx, pending)
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.New(errors.CodeLoadError, "load capability "+name, err)
		}
		return r.synthesisFailed(ctx, name, err)
	}

	if err := r.RegisterCapability(ctx, Capability{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Handler:     handler,
		Source:      SourceSynth,
		Code:        pending.Source,
	}); err != nil {
		return err
	}
	r.record(ctx, audit.ActionSynthesized, name, SourceSynth, pending.Path)
	r.emit(ctx, core.NewEvent(ctx, core.EventCapabilitySynthesized, name, map[string]any{
		"path": pending.Path,
	}))
	return nil
}

func (r *Registry) synthesisFailed(ctx context.Context, name string, err error) error {
	r.logger.Warn("capability.synthesis.error",
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
	r.record(ctx, audit.ActionSynthesisFailed, name, SourceSynth, err.Error())
	r.metrics.RecordError(ctx, err, "capability")
	return err
}
