package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/interview"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

const graphURI = "loopgraph://interview/workflow.yaml"

// MCPServer exposes interview sessions as MCP tools, so an agent can play
// the interviewer.
type MCPServer struct {
	engine    *interview.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMCPServer registers the interview tools and the workflow resource.
func NewMCPServer(engine *interview.Engine, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("loopgraph", Version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves on stdin and stdout.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// StartArgs are the arguments of start_interview.
type StartArgs struct {
	Input string `json:"input"`
}

// ResumeArgs are the arguments of resume_interview.
type ResumeArgs struct {
	CheckpointID string `json:"checkpoint_id"`
	Value        string `json:"value"`
}

// CheckpointArgs are the arguments of get_checkpoint.
type CheckpointArgs struct {
	CheckpointID string `json:"checkpoint_id"`
}

func (s *MCPServer) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_interview",
		mcp.WithDescription("Start a system design interview. The candidate answers with hypotheses and verification questions."),
		mcp.WithString("input", mcp.Required(), mcp.Description("The design request, for example \"Design a URL shortener\"")),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("resume_interview",
		mcp.WithDescription("Answer the question an interview is waiting on. "+
			"AskUserVerification takes a JSON array of answers, AskUserNextSteps takes "+
			`{"action": "continue"|"stop", "input": "next question"}` +
			" and AskUserRetry takes a JSON string hint."),
		mcp.WithString("checkpoint_id", mcp.Required(), mcp.Description("Checkpoint returned by the previous call")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The answer, as JSON")),
		mcp.WithOutputSchema[Outcome](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("get_checkpoint",
		mcp.WithDescription("Show where an interview is waiting and what it asks."),
		mcp.WithString("checkpoint_id", mcp.Required(), mcp.Description("Checkpoint ID")),
		mcp.WithOutputSchema[CheckpointInfo](),
	), mcp.NewStructuredToolHandler(s.handleGetCheckpoint))
}

func (s *MCPServer) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Interview workflow",
		mcp.WithMIMEType("application/yaml"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "application/yaml",
				Text:     string(interview.WorkflowYAML()),
			},
		}, nil
	})
}

func (s *MCPServer) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (Outcome, error) {
	if strings.TrimSpace(args.Input) == "" {
		return Outcome{}, errors.New("input is required")
	}
	out := s.engine.Start(ctx, args.Input)
	s.logger.Info("mcp session started", "status", out.Status)
	return View(out), nil
}

func (s *MCPServer) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (Outcome, error) {
	cp, err := s.engine.LoadCheckpoint(ctx, args.CheckpointID)
	if err != nil {
		return Outcome{}, err
	}
	value, err := s.engine.DecodeResumeValue(cp, []byte(answerJSON(cp, args.Value)))
	if err != nil {
		return Outcome{}, err
	}
	out := s.engine.Resume(ctx, cp, value)
	var dup *graph.DuplicateResumeError
	if errors.As(out.Err, &dup) {
		return Outcome{}, fmt.Errorf("checkpoint %s was already answered", args.CheckpointID)
	}
	s.logger.Info("mcp session resumed", "checkpoint", args.CheckpointID, "status", out.Status)
	return View(out), nil
}

func (s *MCPServer) handleGetCheckpoint(ctx context.Context, _ mcp.CallToolRequest, args CheckpointArgs) (CheckpointInfo, error) {
	cp, err := s.engine.LoadCheckpoint(ctx, args.CheckpointID)
	if err != nil {
		return CheckpointInfo{}, err
	}
	return Info(cp), nil
}

// answerJSON lets agents pass a bare hint to AskUserRetry instead of a
// quoted JSON string.
func answerJSON(cp *graph.Checkpoint, value string) string {
	v := strings.TrimSpace(value)
	if cp.Node() == interview.NodeAskUserRetry && !strings.HasPrefix(v, `"`) {
		data, _ := json.Marshal(v)
		return string(data)
	}
	return v
}
