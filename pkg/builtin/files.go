// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jllopis/ergon/pkg/capability"
)

// File tools report filesystem failures as text so the model can react to
// them. Only malformed arguments are returned as errors.
func fileCapabilities() []capability.Capability {
	pathParam := func(desc string) capability.Param { return capability.Param{Type: "string", Description: desc} }
	return []capability.Capability{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters:  capability.Schema{"path": pathParam("Path of the file to read")},
			Handler:     readFile,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories",
			Parameters: capability.Schema{
				"path":    pathParam("Path of the file"),
				"content": {Type: "string", Description: "Content to write"},
			},
			Handler: writeFile,
		},
		{
			Name:        "list_files",
			Description: "List the entries of a directory",
			Parameters: capability.Schema{"path": {
				Type: "string", Description: "Directory path, empty for the working directory",
			}},
			Handler: listFiles,
		},
		{
			Name:        "create_directory",
			Description: "Create a directory and any missing parents",
			Parameters:  capability.Schema{"path": pathParam("Path of the directory to create")},
			Handler:     createDirectory,
		},
	}
}

func readFile(_ context.Context, args capability.Args) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return errorText("file '%s' does not exist", path), nil
	case err != nil:
		return errorText("reading file: %v", err), nil
	}
	return string(data), nil
}

func writeFile(_ context.Context, args capability.Args) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errorText("writing file: %v", err), nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errorText("writing file: %v", err), nil
	}
	return fmt.Sprintf("File '%s' written successfully", path), nil
}

func listFiles(_ context.Context, args capability.Args) (any, error) {
	path, err := optionalStringArg(args, "path", ".")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return errorText("directory '%s' does not exist", path), nil
	case err != nil:
		return errorText("listing files: %v", err), nil
	case !info.IsDir():
		return errorText("'%s' is not a directory", path), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return errorText("listing files: %v", err), nil
	}
	if len(entries) == 0 {
		return "Directory is empty", nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func createDirectory(_ context.Context, args capability.Args) (any, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errorText("creating directory: %v", err), nil
	}
	return fmt.Sprintf("Directory '%s' created successfully", path), nil
}
