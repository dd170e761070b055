// Package resources implements MCP resource handlers for task memory.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (memory://...) following MCP conventions.
package resources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// CurrentSessionURI addresses the current session and its tasks.
	CurrentSessionURI = "memory://session/current"
	taskURIPrefix     = "memory://task/"
)

// Handler manages memory resource endpoints.
type Handler struct {
	svc *memory.Service
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(svc *memory.Service) *Handler {
	return &Handler{svc: svc}
}

// SessionResource returns the MCP resource definition for the current
// session.
func (h *Handler) SessionResource() mcp.Resource {
	return mcp.NewResource(
		CurrentSessionURI,
		"Current memory session",
		mcp.WithResourceDescription("The current session, its tasks and their phases"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSession returns the current session info as JSON.
func (h *Handler) HandleSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	scope, err := h.svc.Resolve(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	info, err := h.svc.SessionInfo(ctx, scope)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, info)
}

// TaskTemplate returns the MCP resource template for one task's export
// document in the current session.
func (h *Handler) TaskTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		taskURIPrefix+"{task}",
		"Task memory",
		mcp.WithTemplateDescription("Scratchpad, plan and progress of a task in the current session"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleTask returns the export document of the task named in the URI.
func (h *Handler) HandleTask(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	task, err := taskFromURI(req.Params.URI)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	scope, err := h.svc.Resolve(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	doc, err := h.svc.Document(ctx, scope, task)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, doc)
}

func taskFromURI(uri string) (string, error) {
	raw, ok := strings.CutPrefix(uri, taskURIPrefix)
	if !ok || raw == "" {
		return "", fmt.Errorf("not a task URI: %s", uri)
	}
	task, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decoding task name: %w", err)
	}
	return task, nil
}
