package quiz

import "math"

// Result describes one graded question, including the full option set with
// correctness flags now that the quiz is over.
type Result struct {
	QuestionID    int      `json:"question_id"`
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	Explanation   string   `json:"explanation"`
	CorrectAnswer string   `json:"correct_answer"`
	YourAnswer    int      `json:"your_answer"`
	Correct       bool     `json:"correct"`
}

// Summary is the graded outcome of one submitted quiz.
type Summary struct {
	Score      int      `json:"score"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	Results    []Result `json:"results"`
}

// Grade scores the submitted answers against the answer key. answers maps
// question ids to chosen option indexes; an unanswered question counts as
// incorrect and is reported with YourAnswer -1.
func Grade(questions []Question, answers map[int]int) Summary {
	results := make([]Result, len(questions))
	score := 0

	for i, q := range questions {
		correctIdx := correctIndex(q)
		your, answered := answers[i]
		if !answered {
			your = -1
		}

		correct := answered && your == correctIdx
		if correct {
			score++
		}

		results[i] = Result{
			QuestionID:    i,
			Question:      q.Question,
			Options:       q.Options,
			Explanation:   q.Explanation,
			CorrectAnswer: q.CorrectAnswer,
			YourAnswer:    your,
			Correct:       correct,
		}
	}

	return Summary{
		Score:      score,
		Total:      len(questions),
		Percentage: percentage(score, len(questions)),
		Results:    results,
	}
}

func correctIndex(q Question) int {
	for i, opt := range q.Options {
		if opt.IsCorrect {
			return i
		}
	}
	return -1
}

// percentage rounds to two decimal places. A zero total yields 0 rather
// than dividing by zero.
func percentage(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(score)/float64(total)*10000) / 100
}
