package platform

// Course is one course widget on the exam index page.
type Course struct {
	ID   int
	Name string
}

// Chapter is one exam/quiz entry under a course.
type Chapter struct {
	ID   int
	Name string
}

// Completion is a graded attempt visible on the results page.
type Completion struct {
	ChapterID int
	Score     int
}

// Option is a single selectable answer in a question form.
type Option struct {
	Value string
	Text  string
}

// Question is one parsed question block from an exam page.
type Question struct {
	Text      string
	FieldName string // form input name, e.g. "answer[12]"
	Options   []Option
}

// QuestionSet is everything needed to answer and submit one chapter.
type QuestionSet struct {
	ChapterID int
	Action    string // form post target, relative or absolute
	Questions []Question
}
