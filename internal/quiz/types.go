package quiz

// Option is one answer choice on a multiple-choice question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is the full answer-bearing form of a generated question. It is
// held server-side between generate and submit and never leaves the process
// until the quiz is graded.
type Question struct {
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	Explanation   string   `json:"explanation"`
	CorrectAnswer string   `json:"correct_answer"`
}

// OptionView is the answer-free form of an option.
type OptionView struct {
	Text string `json:"text"`
}

// QuestionView is the answer-free form of a question sent to the quiz taker.
type QuestionView struct {
	QuestionID int          `json:"question_id"`
	Question   string       `json:"question"`
	Options    []OptionView `json:"options"`
}

// StripAnswers converts a question batch into its client-facing form,
// dropping correctness flags, explanations and answer letters. Question ids
// are the 0-based positions within the batch.
func StripAnswers(questions []Question) []QuestionView {
	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		options := make([]OptionView, len(q.Options))
		for j, opt := range q.Options {
			options[j] = OptionView{Text: opt.Text}
		}
		views[i] = QuestionView{
			QuestionID: i,
			Question:   q.Question,
			Options:    options,
		}
	}
	return views
}
