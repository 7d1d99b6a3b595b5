package chat

import (
	"fmt"
	"strings"

	"github.com/quizdoc/quizdoc/internal/retrieval"
)

// answerPrompt grounds the model's answer in the retrieved document context.
const answerPrompt = `Based on the following context from the document, please answer the question.

Context:
%s

Question: %s

Answer:`

// buildPrompt joins the chunk texts into a single context block and fills
// the answer template.
func buildPrompt(chunks []retrieval.Chunk, question string) string {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	return fmt.Sprintf(answerPrompt, strings.Join(texts, "\n\n"), question)
}

// sourceLabels names the chunks an answer was grounded on, in retrieval order.
func sourceLabels(chunks []retrieval.Chunk) []string {
	labels := make([]string, len(chunks))
	for i, ch := range chunks {
		labels[i] = fmt.Sprintf("Chunk %d", ch.ChunkID)
	}
	return labels
}
