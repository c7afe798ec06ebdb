package notion

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/docuforge/docuforge/internal/observability"
	"github.com/docuforge/docuforge/internal/task"
)

// Synchronizer pushes task state into one tracker database. Rows are keyed by
// the task id stored in the database's "Task ID" property; the page id for a
// task is resolved once and cached.
type Synchronizer struct {
	client     *Client
	databaseID string
	logger     *observability.Logger

	pages pageCache
}

// NewSynchronizer creates a synchronizer over the tracker database.
func NewSynchronizer(client *Client, databaseID string, logger *observability.Logger) *Synchronizer {
	return &Synchronizer{
		client:     client,
		databaseID: databaseID,
		logger:     logger,
		pages:      newPageCache(),
	}
}

// PushStatus updates the tracker row's Status and Priority selects.
func (s *Synchronizer) PushStatus(ctx context.Context, taskID string, status task.Status, priority string) error {
	pageID, err := s.pageFor(ctx, taskID)
	if err != nil {
		return err
	}
	props := map[string]any{
		"Status": selectProp(string(status)),
	}
	if priority != "" {
		props["Priority"] = selectProp(priority)
	}
	return s.updatePage(ctx, pageID, props)
}

// PushAssets records the generated asset filenames on the tracker row so
// reviewers can see what the run produced without shell access.
func (s *Synchronizer) PushAssets(ctx context.Context, taskID string, files []string) error {
	pageID, err := s.pageFor(ctx, taskID)
	if err != nil {
		return err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	props := map[string]any{
		"Assets":      richTextProp(strings.Join(names, ", ")),
		"Asset Count": map[string]any{"number": len(files)},
	}
	return s.updatePage(ctx, pageID, props)
}

// pageFor resolves the tracker page holding this task, caching the result.
func (s *Synchronizer) pageFor(ctx context.Context, taskID string) (string, error) {
	if id, ok := s.pages.get(taskID); ok {
		return id, nil
	}

	query := map[string]any{
		"filter": map[string]any{
			"property":  "Task ID",
			"rich_text": map[string]any{"equals": taskID},
		},
		"page_size": 1,
	}
	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/v1/databases/%s/query", s.databaseID)
	if err := s.client.do(ctx, http.MethodPost, path, query, &result); err != nil {
		return "", fmt.Errorf("resolve tracker page for task %s: %w", taskID, err)
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("no tracker row for task %s", taskID)
	}

	id := result.Results[0].ID
	s.pages.put(taskID, id)
	return id, nil
}

func (s *Synchronizer) updatePage(ctx context.Context, pageID string, props map[string]any) error {
	body := map[string]any{"properties": props}
	return s.client.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body, nil)
}

func selectProp(name string) map[string]any {
	return map[string]any{
		"select": map[string]any{"name": name},
	}
}

func richTextProp(content string) map[string]any {
	return map[string]any{
		"rich_text": []map[string]any{
			{"text": map[string]any{"content": content}},
		},
	}
}
