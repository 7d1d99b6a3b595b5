package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quizdoc/quizdoc/internal/chat"
	"github.com/quizdoc/quizdoc/internal/extract"
	"github.com/quizdoc/quizdoc/internal/quiz"
	"github.com/quizdoc/quizdoc/internal/session"
	"github.com/quizdoc/quizdoc/internal/vectorindex"
)

const maxRequestBodySize = 1 << 20     // 1MB, JSON bodies
const defaultMaxUploadBytes = 50 << 20 // 50MB, multipart uploads

// Question count bounds for quiz generation.
const (
	minQuestions = 1
	maxQuestions = 15
)

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type UploadResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	NumChunks int    `json:"num_chunks"`
}

type MCQRequest struct {
	SessionID    string `json:"session_id"`
	NumQuestions int    `json:"num_questions"`
}

type MCQResponse struct {
	TestID    string              `json:"test_id"`
	Questions []quiz.QuestionView `json:"questions"`
}

type SubmitRequest struct {
	TestID  string      `json:"test_id"`
	Answers map[int]int `json:"answers"`
}

// Deps holds the services behind the HTTP and MCP surfaces.
type Deps struct {
	Sessions  *session.Store
	Answerer  *chat.Answerer
	Generator *quiz.Generator
	Quizzes   *quiz.Manager

	// MaxUploadBytes caps the multipart body size on upload. Zero means the
	// 50MB default.
	MaxUploadBytes int64

	// Extract converts an uploaded document to plain text. Nil means PDF
	// extraction.
	Extract func(ra io.ReaderAt, size int64) (string, error)
}

func (d Deps) maxUpload() int64 {
	if d.MaxUploadBytes > 0 {
		return d.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (d Deps) extractText(ra io.ReaderAt, size int64) (string, error) {
	if d.Extract != nil {
		return d.Extract(ra, size)
	}
	return extract.Text(ra, size)
}

// NewHandler returns an http.Handler implementing the document Q&A and quiz
// REST API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", handleHealth)
	r.Post("/upload", handleUpload(deps))
	r.Post("/chat", handleChat(deps))
	r.Post("/generate-mcq", handleGenerateMCQ(deps))
	r.Post("/submit-mcq", handleSubmitMCQ(deps))
	r.Delete("/session/{session_id}", handleDeleteSession(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.maxUpload())
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required: %v", err)
			return
		}
		defer file.Close()

		if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Only PDF files are allowed")
			return
		}

		text, err := deps.extractText(file, header.Size)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error processing PDF: %v", err)
			return
		}

		sessionID := uuid.New().String()
		count, err := deps.Sessions.StoreDocument(r.Context(), sessionID, text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error processing PDF: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(UploadResponse{
			SessionID: sessionID,
			Message:   "PDF uploaded and processed successfully",
			NumChunks: count,
		})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" || req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id and query are required")
			return
		}

		answer, err := deps.Answerer.Answer(r.Context(), req.SessionID, req.Query)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error in chat: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
		})
	}
}

func handleGenerateMCQ(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MCQRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}
		if req.NumQuestions < minQuestions || req.NumQuestions > maxQuestions {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Number of questions must be between 1 and 15")
			return
		}

		// Sample twice as many chunks as questions so generation has spare
		// material when a chunk yields nothing usable.
		chunks, err := deps.Sessions.RandomChunks(r.Context(), req.SessionID, 2*req.NumQuestions)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error generating MCQ: %v", err)
			return
		}

		questions := deps.Generator.Generate(r.Context(), chunks, req.NumQuestions)
		if len(questions) == 0 {
			httpError(w, http.StatusInternalServerError, "api_error", "Error generating MCQ: no questions could be generated")
			return
		}

		testID := deps.Quizzes.Put(questions)
		slog.Debug("quiz generated", "test_id", testID, "questions", len(questions))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(MCQResponse{
			TestID:    testID,
			Questions: quiz.StripAnswers(questions),
		})
	}
}

func handleSubmitMCQ(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TestID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "test_id is required")
			return
		}

		summary, err := deps.Quizzes.Submit(req.TestID, req.Answers)
		if errors.Is(err, quiz.ErrTestNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "test not found or already submitted")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error scoring MCQ: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		if err := deps.Sessions.Delete(r.Context(), sessionID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "Error deleting session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Session deleted successfully"})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
