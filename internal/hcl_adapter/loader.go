package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/ftpgo/internal/config"
	"github.com/vk/ftpgo/internal/ctxlog"
	"github.com/vk/ftpgo/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file found under paths and merges them into one
// model. At most one server block may appear across all files, and every
// login may only be declared once.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(".hcl", paths...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	model := &config.Model{}
	parser := hclparse.NewParser()
	evalCtx := newEvalContext()
	serverFile := ""
	logins := make(map[string]string)

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, sb := range root.Servers {
			if serverFile != "" {
				return nil, fmt.Errorf("%s: duplicate server block, first declared in %s", file, serverFile)
			}
			serverFile = file
			server, err := translateServer(sb)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Server = server
		}

		for _, ub := range root.Users {
			if first, ok := logins[ub.Login]; ok {
				return nil, fmt.Errorf("%s: duplicate user %q, first declared in %s", file, ub.Login, first)
			}
			logins[ub.Login] = file
			user, err := translateUser(ub)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Users = append(model.Users, user)
		}
	}

	logger.Debug("HCL loading complete.", "files", len(files), "server_block", serverFile != "", "users", len(model.Users))
	return model, nil
}
