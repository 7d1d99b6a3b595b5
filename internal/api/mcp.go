package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quizdoc/quizdoc/internal/quiz"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

// NewMCPServer creates an MCP server exposing the document Q&A and quiz
// operations as tools.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"quizdoc",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("quizdoc — upload PDF documents, ask questions grounded in their content, and quiz yourself on them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Upload a PDF from a local path and index it for questions and quizzes. Returns the session id."),
			mcp.WithString("path", mcp.Description("Path to a .pdf file"), mcp.Required()),
		),
		mcpUploadDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Ask a question answered from an uploaded document's content."),
			mcp.WithString("session_id", mcp.Description("Session id returned by upload_document"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_quiz",
			mcp.WithDescription("Generate a multiple-choice quiz from an uploaded document. Returns a test id and answer-free questions."),
			mcp.WithString("session_id", mcp.Description("Session id returned by upload_document"), mcp.Required()),
			mcp.WithNumber("num_questions", mcp.Description("Number of questions, 1 to 15 (default 5)")),
		),
		mcpGenerateQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_quiz",
			mcp.WithDescription("Submit quiz answers and receive the score with per-question explanations. A test id can be submitted only once."),
			mcp.WithString("test_id", mcp.Description("Test id returned by generate_quiz"), mcp.Required()),
			mcp.WithString("answers", mcp.Description(`JSON object mapping question_id to chosen option index, e.g. {"0":1,"1":0}`), mcp.Required()),
		),
		mcpSubmitQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_session",
			mcp.WithDescription("Delete an uploaded document session and its indexed content."),
			mcp.WithString("session_id", mcp.Description("Session id to delete"), mcp.Required()),
		),
		mcpDeleteSession(deps),
	)

	return s
}

func mcpUploadDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
			return mcpError("Only PDF files are allowed"), nil
		}

		f, err := os.Open(path)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open %s: %v", path, err)), nil
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to stat %s: %v", path, err)), nil
		}

		text, err := deps.extractText(f, info.Size())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to extract text: %v", err)), nil
		}

		sessionID := uuid.New().String()
		count, err := deps.Sessions.StoreDocument(ctx, sessionID, text)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store document: %v", err)), nil
		}

		b, err := json.Marshal(UploadResponse{
			SessionID: sessionID,
			Message:   "PDF uploaded and processed successfully",
			NumChunks: count,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, err := deps.Answerer.Answer(ctx, sessionID, question)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			return mcpError("session not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to answer: %v", err)), nil
		}

		b, err := json.Marshal(ChatResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGenerateQuiz(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		n := req.GetInt("num_questions", 5)
		if n < minQuestions {
			n = minQuestions
		}
		if n > maxQuestions {
			n = maxQuestions
		}

		chunks, err := deps.Sessions.RandomChunks(ctx, sessionID, 2*n)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			return mcpError("session not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to sample chunks: %v", err)), nil
		}

		questions := deps.Generator.Generate(ctx, chunks, n)
		if len(questions) == 0 {
			return mcpError("no questions could be generated"), nil
		}

		testID := deps.Quizzes.Put(questions)

		b, err := json.Marshal(MCQResponse{
			TestID:    testID,
			Questions: quiz.StripAnswers(questions),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitQuiz(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		testID, err := req.RequireString("test_id")
		if err != nil {
			return mcpError("test_id is required"), nil
		}
		answersJSON, err := req.RequireString("answers")
		if err != nil {
			return mcpError("answers is required"), nil
		}

		var answers map[int]int
		if err := json.Unmarshal([]byte(answersJSON), &answers); err != nil {
			return mcpError(fmt.Sprintf("invalid answers JSON: %v", err)), nil
		}

		summary, err := deps.Quizzes.Submit(testID, answers)
		if errors.Is(err, quiz.ErrTestNotFound) {
			return mcpError("test not found or already submitted"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to score quiz: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteSession(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		if err := deps.Sessions.Delete(ctx, sessionID); err != nil {
			return mcpError(fmt.Sprintf("failed to delete session: %v", err)), nil
		}
		return mcpText("Session deleted successfully"), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
