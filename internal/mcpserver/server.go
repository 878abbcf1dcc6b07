// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/syncservice"
)

const cardFormatURI = "ankisync://card-format"

// Service is the read-only part of syncservice.Service the tools use.
type Service interface {
	Plan(ctx context.Context, req syncservice.Request) (*reconcile.Plan, error)
	PreviewCell(path string, index int) (*syncservice.Preview, error)
	Notebooks(dir string) ([]models.DocumentMeta, error)
	History(limit int) ([]models.Run, error)
	RunDetail(id string) (*models.Run, error)
}

// Server wraps the MCP server with sync tools.
type Server struct {
	mcp  *server.MCPServer
	svc  Service
	deck string
}

// New creates a new MCP server with all tools registered. deck is used when
// a tool call names none.
func New(svc Service, deck string) *Server {
	s := &Server{svc: svc, deck: deck}

	s.mcp = server.NewMCPServer(
		"ankisync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("plan_sync",
		mcp.WithDescription("Compute the operations a sync would run (create, recreate, update), "+
			"the cells that were skipped and the orphaned notes. Nothing is changed."),
		mcp.WithString("deck", mcp.Description("Deck name (defaults to the configured deck)")),
		mcp.WithString("path", mcp.Description("Notebook or directory, relative to the notebooks root")),
	), s.planSync)

	s.mcp.AddTool(mcp.NewTool("preview_cell",
		mcp.WithDescription("Extract one notebook cell into its card front and HTML back "+
			"without touching the deck. Read the format via get_card_format first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Notebook path (e.g. chapter1.ipynb)")),
		mcp.WithNumber("cell", mcp.Required(), mcp.Description("Zero-based cell index")),
	), s.previewCell)

	s.mcp.AddTool(mcp.NewTool("list_orphans",
		mcp.WithDescription("List remote note ids in the deck that no cell refers to."),
		mcp.WithString("deck", mcp.Description("Deck name (defaults to the configured deck)")),
	), s.listOrphans)

	s.mcp.AddTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List notebooks, or the notebooks in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotebooks)

	s.mcp.AddTool(mcp.NewTool("sync_history",
		mcp.WithDescription("List recent sync and prune runs, newest first. "+
			"Pass run_id to get one run with its operations."),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithString("run_id", mcp.Description("Optional run id")),
	), s.syncHistory)

	s.mcp.AddTool(mcp.NewTool("get_card_format",
		mcp.WithDescription("Returns the flashcard cell format. "+
			"Call this before writing or editing flashcard cells."),
	), s.getCardFormat)

	s.mcp.AddResource(
		mcp.NewResource(cardFormatURI, "Flashcard Cell Format",
			mcp.WithResourceDescription("How a notebook cell becomes a flashcard."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCardFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) deckArg(req mcp.CallToolRequest) string {
	if d, err := req.RequireString("deck"); err == nil && d != "" {
		return d
	}
	return s.deck
}

// jsonResult renders v as indented JSON. Card backs are HTML, so HTML
// escaping is off.
func jsonResult(v any) *mcp.CallToolResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(strings.TrimRight(buf.String(), "\n"))
}

func (s *Server) planSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := syncservice.Request{Deck: s.deckArg(req)}
	if p, err := req.RequireString("path"); err == nil {
		r.Path = p
	}
	plan, err := s.svc.Plan(ctx, r)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(syncservice.Summarize(plan)), nil
}

func (s *Server) previewCell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cell, err := req.RequireFloat("cell")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.PreviewCell(path, int(cell))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(p), nil
}

func (s *Server) listOrphans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, err := s.svc.Plan(ctx, syncservice.Request{Deck: s.deckArg(req)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(plan.Orphans) == 0 {
		return mcp.NewToolResultText("no orphaned notes"), nil
	}
	text := strings.Join(plan.Orphans, "\n")
	if len(plan.Skipped) > 0 {
		text += fmt.Sprintf("\n(%d cell(s) were skipped and may still own some of these notes)", len(plan.Skipped))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) listNotebooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}

	metas, err := s.svc.Notebooks(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(metas) == 0 {
		return mcp.NewToolResultText("no notebooks found"), nil
	}

	paths := make([]string, 0, len(metas))
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) syncHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id, err := req.RequireString("run_id"); err == nil && id != "" {
		run, err := s.svc.RunDetail(id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if run == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", id)), nil
		}
		return jsonResult(run), nil
	}

	limit := 0
	if l, err := req.RequireFloat("limit"); err == nil {
		limit = int(l)
	}
	runs, err := s.svc.History(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	return jsonResult(runs), nil
}

func (s *Server) getCardFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CardFormatContract), nil
}

func (s *Server) readCardFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      cardFormatURI,
			MIMEType: "text/markdown",
			Text:     CardFormatContract,
		},
	}, nil
}
