// Package mcp exposes a session as MCP tools over stdio.
package mcp

import (
	"bytes"
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/itsmostafa/runpad/internal/render"
	"github.com/itsmostafa/runpad/internal/session"
)

// Tool names.
const (
	ToolRun       = "run"
	ToolInstall   = "install_package"
	ToolUninstall = "uninstall_package"
	ToolList      = "list_packages"
)

type RunInput struct {
	Source string `json:"source" jsonschema:"JavaScript source to run; the value of the last expression is returned"`
}

type RunOutput struct {
	RunID      string                  `json:"runId"`
	Success    bool                    `json:"success"`
	Result     any                     `json:"result,omitempty"`
	Undefined  bool                    `json:"undefined,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Line       int                     `json:"line,omitempty"`
	Superseded bool                    `json:"superseded,omitempty"`
	Console    []session.ConsoleOutput `json:"console"`
}

type PackageInput struct {
	Name string `json:"name" jsonschema:"npm package name, optionally suffixed with @version"`
}

type PackageOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ListInput struct{}

type ListOutput struct {
	Success  bool              `json:"success"`
	Packages map[string]string `json:"packages"`
	Error    string            `json:"error,omitempty"`
}

// Server serves one session to an MCP client.
type Server struct {
	sess   *session.Session
	server *mcpsdk.Server
	logger session.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(sess *session.Session, version string, logger session.Logger) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	s := &Server{
		sess:   sess,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{Name: "runpad", Version: version}, nil),
		logger: logger,
	}

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolRun,
		Description: "Run a JavaScript snippet in a sandbox and return its result with the console output of every line",
	}, s.run)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolInstall,
		Description: "Install an npm package into the dependency store so scripts can require it",
	}, s.install)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolUninstall,
		Description: "Remove an npm package from the dependency store",
	}, s.uninstall)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolList,
		Description: "List the packages installed in the dependency store",
	}, s.list)

	return s
}

// Run serves over stdin and stdout until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving mcp over stdio")
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) run(ctx context.Context, _ *mcpsdk.CallToolRequest, in RunInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	var collected render.Collector
	unsubscribe := s.sess.Subscribe(collected.Add)
	resp := s.sess.Run(ctx, in.Source)
	unsubscribe()

	console := collected.Take(resp.RunID)
	if console == nil {
		console = []session.ConsoleOutput{}
	}

	var buf bytes.Buffer
	render.NewPrinter(&buf).Transcript(render.Entries(console, resp))

	out := RunOutput{
		RunID:      resp.RunID,
		Success:    resp.Success,
		Result:     resp.Result,
		Undefined:  resp.Undefined,
		Error:      resp.Error,
		Line:       resp.Line,
		Superseded: resp.Superseded,
		Console:    console,
	}
	return textResult(buf.String(), !resp.Success), out, nil
}

func (s *Server) install(ctx context.Context, _ *mcpsdk.CallToolRequest, in PackageInput) (*mcpsdk.CallToolResult, PackageOutput, error) {
	return packageResult("installed "+in.Name, s.sess.InstallPackage(ctx, in.Name))
}

func (s *Server) uninstall(ctx context.Context, _ *mcpsdk.CallToolRequest, in PackageInput) (*mcpsdk.CallToolResult, PackageOutput, error) {
	return packageResult("uninstalled "+in.Name, s.sess.UninstallPackage(ctx, in.Name))
}

func (s *Server) list(ctx context.Context, _ *mcpsdk.CallToolRequest, _ ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	resp := s.sess.GetPackages(ctx)
	out := ListOutput{Success: resp.Success, Packages: resp.Packages, Error: resp.Error}
	if out.Packages == nil {
		out.Packages = map[string]string{}
	}
	if !resp.Success {
		return textResult(resp.Error, true), out, nil
	}

	var buf bytes.Buffer
	render.NewPrinter(&buf).Packages(out.Packages)
	return textResult(buf.String(), false), out, nil
}

func packageResult(done string, resp session.PackageResponse) (*mcpsdk.CallToolResult, PackageOutput, error) {
	out := PackageOutput{Success: resp.Success, Error: resp.Error}
	if !resp.Success {
		return textResult(resp.Error, true), out, nil
	}
	return textResult(done, false), out, nil
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
