package pipeline

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"quizbot/internal/oracle"
	"quizbot/internal/platform"
)

type fakeClient struct {
	authed       bool
	loginResults []error
	loginCalls   int
	probeCalls   int

	courses      []platform.Course
	courseCalls  int
	chapters     []platform.Chapter
	completions  map[int]platform.Completion
	listCalls    int
	questionSets map[int]*platform.QuestionSet

	submitStatus int
	submitErr    error
	submitted    []url.Values
}

func (f *fakeClient) IsAuthenticated(context.Context) bool {
	f.probeCalls++
	return f.authed
}

func (f *fakeClient) Login(context.Context, string, string) error {
	f.loginCalls++
	if len(f.loginResults) == 0 {
		f.authed = true
		return nil
	}
	err := f.loginResults[0]
	f.loginResults = f.loginResults[1:]
	if err == nil {
		f.authed = true
	}
	return err
}

func (f *fakeClient) ListCourses(context.Context) ([]platform.Course, error) {
	f.courseCalls++
	if f.courses == nil {
		return []platform.Course{{ID: 1, Name: "course"}}, nil
	}
	return f.courses, nil
}

func (f *fakeClient) ListChapters(context.Context, int) ([]platform.Chapter, error) {
	f.listCalls++
	return f.chapters, nil
}

func (f *fakeClient) FetchCompletions(context.Context, int) (map[int]platform.Completion, error) {
	if f.completions == nil {
		return map[int]platform.Completion{}, nil
	}
	return f.completions, nil
}

func (f *fakeClient) FetchQuestions(_ context.Context, chapterID int) (*platform.QuestionSet, error) {
	qs, ok := f.questionSets[chapterID]
	if !ok {
		return nil, errors.New("no such chapter")
	}
	return qs, nil
}

func (f *fakeClient) Submit(_ context.Context, _ string, form url.Values) (int, error) {
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.submitted = append(f.submitted, form)
	if f.submitStatus == 0 {
		return 200, nil
	}
	return f.submitStatus, nil
}

type fakeBank struct {
	answers map[string]string
}

func (f *fakeBank) Lookup(_ context.Context, q string) (string, bool, error) {
	a, ok := f.answers[q]
	return a, ok, nil
}

type fakeOracle struct {
	answers map[string]string
	err     error
	calls   int
}

func (f *fakeOracle) Resolve(_ context.Context, req oracle.Request) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	a, ok := f.answers[req.Question]
	return a, ok, nil
}

func abOptions() []platform.Option {
	return []platform.Option{{Value: "A", Text: "a"}, {Value: "B", Text: "b"}}
}

func question(text string) platform.Question {
	return platform.Question{Text: text, FieldName: "answer[" + text + "]", Options: abOptions()}
}

func defaultPolicy() Policy {
	return Policy{AutoSubmit: true, MinAnswerRate: 1.0}
}

func TestRunSubmitsAllChapters(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}, {ID: 102, Name: "two"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Action: "/do/101", Questions: []platform.Question{question("q1"), question("q2")}},
			102: {ChapterID: 102, Action: "/do/102", Questions: []platform.Question{question("q3")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"q1": "A", "q2": "B", "q3": "A"}}

	r := &Runner{Client: client, Bank: bank, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.Succeeded != 2 || out.Failed != 0 {
		t.Fatalf("counters: %+v", out)
	}
	if len(client.submitted) != 2 {
		t.Fatalf("want 2 submissions, got %d", len(client.submitted))
	}
	if got := client.submitted[0].Get("answer[q1]"); got != "A" {
		t.Fatalf("submitted value: got %q", got)
	}
}

func TestRunValidatesSelectionBeforeNetwork(t *testing.T) {
	t.Parallel()

	client := &fakeClient{authed: true}
	r := &Runner{Client: client, Policy: defaultPolicy()}
	out := r.Run(context.Background(),
		Target{CourseID: 1, Mode: ModeRange, Spec: "5-2"}, Credentials{}, nil)

	if out.Success || out.StopReason == "" {
		t.Fatalf("want validation failure, got %+v", out)
	}
	if client.probeCalls != 0 || client.loginCalls != 0 || client.courseCalls != 0 || client.listCalls != 0 {
		t.Fatalf("network touched before validation: %+v", client)
	}
}

func TestEstablishSessionFailsFastOnRejectedCredentials(t *testing.T) {
	t.Parallel()

	client := &fakeClient{loginResults: []error{platform.ErrAuthFailed, nil, nil}}
	r := &Runner{Client: client, LoginAttempts: 3, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Success {
		t.Fatal("want failure")
	}
	if client.loginCalls != 1 {
		t.Fatalf("rejected credentials must not be retried, got %d login calls", client.loginCalls)
	}
}

func TestEstablishSessionRetriesTransportFaults(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("connection reset")
	client := &fakeClient{
		loginResults: []error{transportErr, transportErr, nil},
		chapters:     []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"q1": "A"}}
	r := &Runner{Client: client, Bank: bank, LoginAttempts: 3, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if !out.Success {
		t.Fatalf("want success after transport retries, got %+v", out)
	}
	if client.loginCalls != 3 {
		t.Fatalf("want 3 login passes, got %d", client.loginCalls)
	}
}

func TestStrictModeStopsOnUnanswered(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}, {ID: 102, Name: "two"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("known"), question("unknown")}},
			102: {ChapterID: 102, Questions: []platform.Question{question("known")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"known": "A"}}

	r := &Runner{Client: client, Bank: bank,
		Policy: Policy{Strict: true, AutoSubmit: true, MinAnswerRate: 1.0}}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Success {
		t.Fatal("want failure")
	}
	if len(out.Reports) != 1 {
		t.Fatalf("strict mode must stop after the first short chapter, got %d reports", len(out.Reports))
	}
	if out.Reports[0].Status != StatusInsufficient {
		t.Fatalf("status: %s", out.Reports[0].Status)
	}
	if out.StopReason == "" {
		t.Fatal("want stop reason")
	}
	if len(client.submitted) != 0 {
		t.Fatal("nothing may be submitted in a stopped strict run")
	}
}

func TestMinAnswerRateBlocksSubmissionButContinues(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}, {ID: 102, Name: "two"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("known"), question("u1"), question("u2")}},
			102: {ChapterID: 102, Questions: []platform.Question{question("known")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"known": "A"}}

	r := &Runner{Client: client, Bank: bank,
		Policy: Policy{AutoSubmit: true, MinAnswerRate: 0.8}}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if len(out.Reports) != 2 {
		t.Fatalf("non-strict run must continue past an insufficient chapter, got %d reports", len(out.Reports))
	}
	if out.Reports[0].Status != StatusInsufficient {
		t.Fatalf("first chapter: %s", out.Reports[0].Status)
	}
	if out.Reports[1].Status != StatusSubmitted {
		t.Fatalf("second chapter: %s", out.Reports[1].Status)
	}
	if out.Success {
		t.Fatal("a run with an insufficient chapter is not a success")
	}
	if out.Failed != 1 || out.Succeeded != 1 {
		t.Fatalf("counters: failed=%d succeeded=%d", out.Failed, out.Succeeded)
	}
	if len(out.Examples) != 1 {
		t.Fatalf("insufficient chapter must leave a failure example, got %v", out.Examples)
	}
	if out.SkippedMissing != 2 {
		t.Fatalf("skipped missing: %d", out.SkippedMissing)
	}
}

func TestSubmitDisabledPreparesOnly(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"q1": "A"}}

	r := &Runner{Client: client, Bank: bank,
		Policy: Policy{AutoSubmit: false, MinAnswerRate: 1.0}}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.Reports[0].Status != StatusPrepared {
		t.Fatalf("status: %s", out.Reports[0].Status)
	}
	if len(client.submitted) != 0 {
		t.Fatal("submission must not happen with auto_submit disabled")
	}
}

func TestOracleDisabledAfterThreeConsecutiveFailures(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{
				question("q1"), question("q2"), question("q3"), question("q4"),
			}},
		},
	}
	orc := &fakeOracle{err: errors.New("boom")}

	r := &Runner{Client: client, Oracle: orc,
		Policy: Policy{AutoSubmit: true, MinAnswerRate: 1.0}}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if orc.calls != 3 {
		t.Fatalf("the 4th question must not reach the oracle, got %d calls", orc.calls)
	}
	if out.Reports[0].Missing != 4 {
		t.Fatalf("missing: %d", out.Reports[0].Missing)
	}
}

func TestBankTakesPrecedenceOverOracle(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"q1": "A"}}
	orc := &fakeOracle{answers: map[string]string{"q1": "B"}}

	r := &Runner{Client: client, Bank: bank, Oracle: orc, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if orc.calls != 0 {
		t.Fatalf("oracle must not be called on a bank hit, got %d calls", orc.calls)
	}
	if out.Reports[0].FromBank != 1 {
		t.Fatalf("from bank: %d", out.Reports[0].FromBank)
	}
}

func TestInvalidOracleAnswerCounted(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	orc := &fakeOracle{answers: map[string]string{"q1": "Z"}}

	r := &Runner{Client: client, Oracle: orc, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Reports[0].Invalid != 1 || out.Reports[0].Answered != 0 {
		t.Fatalf("report: %+v", out.Reports[0])
	}
	if out.SkippedInvalid != 1 {
		t.Fatalf("skipped invalid: %d", out.SkippedInvalid)
	}
}

type canceledToken struct{}

func (canceledToken) Canceled() bool { return true }

func TestCancelBeforeFirstChapter(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	r := &Runner{Client: client, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, canceledToken{})

	if !out.Canceled {
		t.Fatalf("want canceled outcome, got %+v", out)
	}
	if len(out.Reports) != 0 {
		t.Fatalf("no chapter may run after cancellation, got %d reports", len(out.Reports))
	}
}

func TestSubmitRejectionFailsChapter(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:       true,
		submitStatus: 500,
		chapters:     []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("q1")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"q1": "A"}}

	r := &Runner{Client: client, Bank: bank, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Success {
		t.Fatal("want failure")
	}
	if out.Reports[0].Status != StatusError || out.Reports[0].HTTPStatus != 500 {
		t.Fatalf("report: %+v", out.Reports[0])
	}
	if out.SubmitFailed != 1 || out.Failed != 1 {
		t.Fatalf("counters: %+v", out)
	}
	if len(out.Examples) != 1 {
		t.Fatalf("examples: %v", out.Examples)
	}
	if out.StopReason != "one: submit rejected: http 500" {
		t.Fatalf("stop reason not built from the failure example: %q", out.StopReason)
	}
}

func TestEmptySelectionFailsRun(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:      true,
		chapters:    []platform.Chapter{{ID: 101, Name: "one"}},
		completions: map[int]platform.Completion{101: {ChapterID: 101, Score: 95}},
	}
	r := &Runner{Client: client, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeIncomplete}, Credentials{}, nil)

	if out.Success {
		t.Fatalf("an empty selection must fail the run, got %+v", out)
	}
	if out.StopReason != "no chapters selected" {
		t.Fatalf("stop reason: %q", out.StopReason)
	}
}

func TestRunFailsWhenCourseMissing(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		courses:  []platform.Course{{ID: 2, Name: "other"}},
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
	}
	r := &Runner{Client: client, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Success {
		t.Fatal("want failure for an unknown course")
	}
	if out.StopReason != "course 1 not found" {
		t.Fatalf("stop reason: %q", out.StopReason)
	}
	if client.listCalls != 0 {
		t.Fatalf("chapters fetched for a missing course: %d calls", client.listCalls)
	}
}

func TestRunFailsOnEmptyChapterList(t *testing.T) {
	t.Parallel()

	client := &fakeClient{authed: true, chapters: []platform.Chapter{}}
	r := &Runner{Client: client, Policy: defaultPolicy()}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if out.Success {
		t.Fatal("want failure for a course with no chapters")
	}
	if out.StopReason != "no chapters found" {
		t.Fatalf("stop reason: %q", out.StopReason)
	}
}

func TestZeroMinAnswerRateSubmitsPartialChapter(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		authed:   true,
		chapters: []platform.Chapter{{ID: 101, Name: "one"}},
		questionSets: map[int]*platform.QuestionSet{
			101: {ChapterID: 101, Questions: []platform.Question{question("known"), question("unknown")}},
		},
	}
	bank := &fakeBank{answers: map[string]string{"known": "A"}}

	r := &Runner{Client: client, Bank: bank,
		Policy: Policy{AutoSubmit: true, MinAnswerRate: 0}}
	out := r.Run(context.Background(), Target{CourseID: 1, Mode: ModeAll}, Credentials{}, nil)

	if !out.Success {
		t.Fatalf("rate 0 must allow a partial chapter, got %+v", out)
	}
	if out.Reports[0].Status != StatusSubmitted {
		t.Fatalf("status: %s", out.Reports[0].Status)
	}
	if len(client.submitted) != 1 {
		t.Fatalf("want 1 submission, got %d", len(client.submitted))
	}
}
