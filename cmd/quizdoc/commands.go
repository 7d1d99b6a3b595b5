package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quizdoc/quizdoc/internal/config"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF and start a session",
	Long: `Upload a PDF and start a session.

The printed session id is the handle for ask, quiz, and session rm:
  quizdoc upload ./paper.pdf
  quizdoc ask <session-id> "What is the main finding?"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postFile(cmd.Context(), "/upload", "file", args[0])
		if err != nil {
			return err
		}

		var result struct {
			SessionID string `json:"session_id"`
			NumChunks int    `json:"num_chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded %s (%d chunks)", filepath.Base(args[0]), result.NumChunks)
		fmt.Println(result.SessionID)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <session-id> <question>",
	Short: "Ask a question about an uploaded document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		query := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat", map[string]any{
			"session_id": sessionID,
			"query":      query,
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer  string   `json:"answer"`
			Sources []string `json:"sources"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if len(result.Sources) > 0 {
			fmt.Println()
			fmt.Println(colorize(colorBold, "Sources:"))
			for _, s := range result.Sources {
				fmt.Printf("  %s\n", s)
			}
		}
		return nil
	},
}

// --- quiz ---

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Generate and grade quizzes",
}

var quizNewCmd = &cobra.Command{
	Use:   "new <session-id>",
	Short: "Generate a multiple-choice quiz from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("questions")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/generate-mcq", map[string]any{
			"session_id":    args[0],
			"num_questions": n,
		})
		if err != nil {
			return err
		}

		var result struct {
			TestID    string `json:"test_id"`
			Questions []struct {
				QuestionID int    `json:"question_id"`
				Question   string `json:"question"`
				Options    []struct {
					Text string `json:"text"`
				} `json:"options"`
			} `json:"questions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Printf("%s %s\n\n", colorize(colorBold, "Test"), result.TestID)
		for _, q := range result.Questions {
			fmt.Printf("%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", q.QuestionID)), q.Question)
			for i, opt := range q.Options {
				fmt.Printf("   %c) %s\n", 'A'+i, opt.Text)
			}
			fmt.Println()
		}
		fmt.Printf("Grade with: quizdoc quiz grade %s -a 0=A,1=C,...\n", result.TestID)
		return nil
	},
}

var quizGradeCmd = &cobra.Command{
	Use:   "grade <test-id>",
	Short: "Submit answers and see the score",
	Long: `Submit answers and see the score.

Answers pair question ids with chosen options, by letter or index:
  quizdoc quiz grade <test-id> -a 0=B,1=A,2=D

A test can be graded once; a second submission is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answersStr, _ := cmd.Flags().GetString("answers")
		answers, err := parseAnswers(answersStr)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/submit-mcq", map[string]any{
			"test_id": args[0],
			"answers": answers,
		})
		if err != nil {
			return err
		}

		var result struct {
			Score      int     `json:"score"`
			Total      int     `json:"total"`
			Percentage float64 `json:"percentage"`
			Results    []struct {
				QuestionID    int    `json:"question_id"`
				Question      string `json:"question"`
				Explanation   string `json:"explanation"`
				CorrectAnswer string `json:"correct_answer"`
				Correct       bool   `json:"correct"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Printf("%s %d/%d (%.1f%%)\n\n",
			colorize(colorBold, "Score:"), result.Score, result.Total, result.Percentage)
		for _, r := range result.Results {
			mark := colorize(colorGreen, "✓")
			if !r.Correct {
				mark = colorize(colorRed, "✗")
			}
			fmt.Printf("%s %d. %s\n", mark, r.QuestionID, r.Question)
			if !r.Correct {
				fmt.Printf("   correct answer: %s\n", r.CorrectAnswer)
			}
			if r.Explanation != "" {
				fmt.Printf("   %s\n", r.Explanation)
			}
		}
		return nil
	},
}

// parseAnswers converts "0=B,1=A" into the answers map keyed by question id.
// Options may be given as letters (A, b) or zero-based indexes.
func parseAnswers(s string) (map[int]int, error) {
	answers := make(map[int]int)
	if strings.TrimSpace(s) == "" {
		return answers, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return nil, fmt.Errorf("invalid answer %q: want id=letter", pair)
		}
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q", k)
		}
		choice := strings.ToUpper(strings.TrimSpace(v))
		if len(choice) == 1 && choice[0] >= 'A' && choice[0] <= 'Z' {
			answers[id] = int(choice[0] - 'A')
			continue
		}
		idx, err := strconv.Atoi(choice)
		if err != nil {
			return nil, fmt.Errorf("invalid answer %q for question %d", v, id)
		}
		answers[id] = idx
	}
	return answers, nil
}

func init() {
	quizNewCmd.Flags().IntP("questions", "n", 5, "number of questions to generate")
	quizGradeCmd.Flags().StringP("answers", "a", "", "answers as id=letter pairs, e.g. 0=B,1=A")
	_ = quizGradeCmd.MarkFlagRequired("answers")
	quizCmd.AddCommand(quizNewCmd)
	quizCmd.AddCommand(quizGradeCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage document sessions",
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a session and its stored vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/session/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result["message"])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionRmCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
