package bank

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"quizbot/pkg/logx"
)

// jsonStore serves the legacy question_bank.json document:
//
//	{"<chapter key>": {"questions": [{"question_text": "...", "selected_answer": "A"}, ...]}, ...}
//
// The whole document is loaded once; the store is read-only.
type jsonStore struct {
	log     logx.Logger
	answers map[string]string // question text -> answer
}

type jsonChapter struct {
	Questions []jsonQuestion `json:"questions"`
}

type jsonQuestion struct {
	QuestionText   string `json:"question_text"`
	SelectedAnswer string `json:"selected_answer"`
}

func openJSON(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bank.path is required for json driver")
	}
	doc, err := readBankFile(cfg.Path)
	if err != nil {
		return nil, err
	}

	answers := map[string]string{}
	for _, ch := range doc {
		for _, q := range ch.Questions {
			if q.QuestionText != "" && q.SelectedAnswer != "" {
				answers[q.QuestionText] = q.SelectedAnswer
			}
		}
	}
	log.Info("answer bank loaded", logx.Int("questions", len(answers)), logx.String("path", cfg.Path))
	return &jsonStore{log: log, answers: answers}, nil
}

// readBankFile parses a question_bank.json document.
func readBankFile(path string) (map[string]jsonChapter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]jsonChapter
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ImportJSON copies a question_bank.json document into dst (typically the
// sqlite store). Returns the number of imported answers.
func ImportJSON(ctx context.Context, dst Store, path string) (int, error) {
	doc, err := readBankFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for chapter, ch := range doc {
		for _, q := range ch.Questions {
			if q.QuestionText == "" || q.SelectedAnswer == "" {
				continue
			}
			if err := dst.Put(ctx, chapter, q.QuestionText, q.SelectedAnswer); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *jsonStore) Lookup(_ context.Context, questionText string) (string, bool, error) {
	a, ok := s.answers[questionText]
	return a, ok, nil
}

func (s *jsonStore) Put(context.Context, string, string, string) error { return ErrReadOnly }

func (s *jsonStore) Count(context.Context) (int, error) { return len(s.answers), nil }

func (s *jsonStore) Close() error { return nil }
