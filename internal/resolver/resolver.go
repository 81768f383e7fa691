// Package resolver finds or creates the document store folder that receives
// a request's attachments.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"
)

type Folders interface {
	ListFolders(ctx context.Context, parentID, name string) ([]string, error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
}

// Resolver is an idempotent get-or-create over Folders.
//
// List-then-create is not atomic: two processes resolving the same name at
// once can both create a folder. That race is tolerated. When several
// folders match, the lexicographically smallest id is returned, so every
// later resolution converges on the same folder. Concurrent calls inside
// this process share one lookup.
type Resolver struct {
	folders Folders
	group   singleflight.Group
}

func New(folders Folders) *Resolver {
	return &Resolver{folders: folders}
}

// Resolve returns the id of the folder called name under parentID, creating
// it when none exists. An empty parentID means the store's root. Errors from
// the store are returned as is; there are no retries.
func (r *Resolver) Resolve(ctx context.Context, parentID, name string) (string, error) {
	if parentID == "" {
		parentID = "root"
	}
	if name == "" {
		return "", fmt.Errorf("resolve folder: empty name")
	}

	v, err, _ := r.group.Do(parentID+"\x00"+name, func() (any, error) {
		return r.resolve(ctx, parentID, name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context, parentID, name string) (string, error) {
	ids, err := r.folders.ListFolders(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("resolve folder %q: %w", name, err)
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		if len(ids) > 1 {
			slog.Warn("duplicate folders found", "parent", parentID, "name", name, "count", len(ids), "chosen", ids[0])
		}
		return ids[0], nil
	}

	id, err := r.folders.CreateFolder(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("resolve folder %q: %w", name, err)
	}
	slog.Info("folder created", "parent", parentID, "name", name, "id", id)
	return id, nil
}
