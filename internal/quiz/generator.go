package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const (
	generationTemperature = 0.8
	batchMaxTokens        = 2000
	perChunkMaxTokens     = 800

	maxContextChars = 3000
	maxChunkChars   = 600
	maxClauseChars  = 100
)

const batchPrompt = `Based on the following text, generate %d multiple-choice questions (MCQ) with 4 options each.

IMPORTANT RULES:
- Each question must have EXACTLY ONE correct answer
- Mark is_correct as true for ONLY ONE option
- All other options must have is_correct as false

For each question:
1. Create a clear, specific question
2. Provide 4 options (A, B, C, D)
3. Mark ONLY ONE correct answer (is_correct: true)
4. Provide a brief explanation

Format your response as a JSON array with this structure:
[
  {
    "question": "Question text here?",
    "options": [
      {"text": "Option A", "is_correct": false},
      {"text": "Option B", "is_correct": true},
      {"text": "Option C", "is_correct": false},
      {"text": "Option D", "is_correct": false}
    ],
    "explanation": "Explanation why B is correct",
    "correct_answer": "B"
  }
]

Text:
%s

Generate exactly %d questions in JSON format. Remember: ONLY ONE is_correct per question!`

const perChunkPrompt = `Based on this text, create ONE multiple choice question with 4 options.

CRITICAL: Mark EXACTLY ONE option as correct (is_correct: true). All others must be false.

Text: %s

Respond with ONLY a JSON object in this exact format:
{
  "question": "Your question?",
  "options": [
    {"text": "Option A", "is_correct": false},
    {"text": "Option B", "is_correct": true},
    {"text": "Option C", "is_correct": false},
    {"text": "Option D", "is_correct": false}
  ],
  "explanation": "Why the answer is correct",
  "correct_answer": "B"
}

Remember: ONLY ONE is_correct should be true!`

// Completer generates free-form text for a prompt.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (string, error)
}

// Generator produces validated multiple-choice questions from document
// chunks.
type Generator struct {
	llm    Completer
	model  string
	logger *slog.Logger
}

// NewGenerator creates a Generator that uses the given chat model.
func NewGenerator(llm Completer, model string) *Generator {
	return &Generator{
		llm:    llm,
		model:  model,
		logger: slog.Default(),
	}
}

// Generate produces n validated questions from the chunks. Generation
// degrades through three stages: a single batched model call, one model
// call per chunk, and finally local synthesis that needs no model at all.
// The result always holds exactly n questions unless fewer source chunks
// exist than are needed to back-fill the shortfall.
func (g *Generator) Generate(ctx context.Context, chunks []string, n int) []Question {
	if n <= 0 {
		return nil
	}

	candidates, err := g.generateBatch(ctx, chunks, n)
	if err != nil {
		g.logger.Warn("batch question generation failed, trying per-chunk calls", "error", err)
		candidates = g.generatePerChunk(ctx, chunks, n)
	}

	questions := make([]Question, 0, n)
	for _, q := range candidates {
		if len(questions) == n {
			break
		}
		if normalize(&q) {
			questions = append(questions, q)
		}
	}

	// Back-fill with synthesized questions so the caller still gets n.
	for i := len(questions); i < n && i < len(chunks); i++ {
		questions = append(questions, synthesizeQuestion(truncateRunes(chunks[i], maxChunkChars)))
	}

	return questions
}

func (g *Generator) generateBatch(ctx context.Context, chunks []string, n int) ([]Question, error) {
	docContext := truncateRunes(strings.Join(chunks[:min(len(chunks), 2*n)], "\n\n"), maxContextChars)
	prompt := fmt.Sprintf(batchPrompt, n, docContext, n)

	resp, err := g.llm.Complete(ctx, g.model, prompt, generationTemperature, batchMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("batch completion: %w", err)
	}

	return parseQuestionArray(resp)
}

func (g *Generator) generatePerChunk(ctx context.Context, chunks []string, n int) []Question {
	var questions []Question
	for i := 0; i < min(n, len(chunks)); i++ {
		if ctx.Err() != nil {
			break
		}

		text := truncateRunes(chunks[i], maxChunkChars)
		resp, err := g.llm.Complete(ctx, g.model, fmt.Sprintf(perChunkPrompt, text), generationTemperature, perChunkMaxTokens)
		if err != nil {
			g.logger.Debug("per-chunk generation failed", "chunk", i, "error", err)
			continue
		}

		q, err := parseQuestionObject(resp)
		if err != nil {
			g.logger.Debug("per-chunk parse failed", "chunk", i, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	return questions
}

// parseQuestionArray extracts a JSON question array from a model response.
// The substring between the first '[' and the last ']' is tried first so
// that surrounding prose does not break parsing, then the whole response.
func parseQuestionArray(resp string) ([]Question, error) {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start != -1 && end > start {
		var questions []Question
		if err := json.Unmarshal([]byte(resp[start:end+1]), &questions); err == nil {
			return questions, nil
		}
	}

	var questions []Question
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &questions); err != nil {
		return nil, fmt.Errorf("no question array in response")
	}
	return questions, nil
}

// parseQuestionObject extracts a single JSON question object, tolerating
// surrounding prose the same way parseQuestionArray does.
func parseQuestionObject(resp string) (Question, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start == -1 || end <= start {
		return Question{}, fmt.Errorf("no question object in response")
	}

	var q Question
	if err := json.Unmarshal([]byte(resp[start:end+1]), &q); err != nil {
		return Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

// normalize enforces the single-correct-answer contract on a candidate,
// regardless of whether the model or the local fallback produced it.
// Questions with no correct option get the first option forced correct;
// questions with several keep only the first. The answer letter is always
// recomputed from the flagged option's position, never trusted from the
// model. Returns false for questions that cannot be repaired.
func normalize(q *Question) bool {
	if len(q.Options) == 0 {
		return false
	}

	correct := -1
	for i, opt := range q.Options {
		if opt.IsCorrect {
			correct = i
			break
		}
	}
	if correct == -1 {
		correct = 0
	}

	for i := range q.Options {
		q.Options[i].IsCorrect = i == correct
	}
	q.CorrectAnswer = string(rune('A' + correct))
	return true
}

// synthesizeQuestion builds a trivial question from the chunk's opening
// clause using only string manipulation. Last resort when the model could
// not produce enough valid questions.
func synthesizeQuestion(chunk string) Question {
	clause := truncateRunes(strings.SplitN(chunk, ".", 2)[0], maxClauseChars)
	return Question{
		Question: fmt.Sprintf("What does the document mention about: %s?", clause),
		Options: []Option{
			{Text: "Information not provided in the text"},
			{Text: fmt.Sprintf("It discusses: %s", clause), IsCorrect: true},
			{Text: "This topic is not covered"},
			{Text: "The document does not specify"},
		},
		Explanation:   "This information is directly stated in the document text.",
		CorrectAnswer: "B",
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
