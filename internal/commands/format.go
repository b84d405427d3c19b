package commands

import (
	"fmt"
	"strings"

	"quizbot/internal/bindings"
	"quizbot/internal/platform"
	"quizbot/internal/scheduler"
)

const helpText = `Commands:
/bind <username> <password> - bind your portal account (private chat only)
/courses - list your courses
/chapters <course> - list chapters and scores
/start <course> [all|incomplete|1,3,5|2-6] - run the auto-answer task
/status - show your tasks
/cancel [task id] - cancel a task
/help - this message`

// formatCourses renders the numbered course list; courses covered by the
// local answer bank are tagged.
func formatCourses(courses []platform.Course, targets []string) string {
	if len(courses) == 0 {
		return "No courses found."
	}
	var b strings.Builder
	b.WriteString("Courses:\n")
	for i, c := range courses {
		tag := ""
		if matchesTarget(c.Name, targets) {
			tag = " [bank]"
		}
		fmt.Fprintf(&b, "%d. %s (id %d)%s\n", i+1, c.Name, c.ID, tag)
	}
	b.WriteString("\nStart one with /start <number>")
	return b.String()
}

func matchesTarget(name string, targets []string) bool {
	for _, t := range targets {
		if t != "" && strings.Contains(name, t) {
			return true
		}
	}
	return false
}

func formatChapters(course platform.Course, chapters []platform.Chapter, completions map[int]platform.Completion) string {
	if len(chapters) == 0 {
		return fmt.Sprintf("No chapters found in %s.", course.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", course.Name)
	done := 0
	for i, ch := range chapters {
		if comp, ok := completions[ch.ID]; ok {
			done++
			fmt.Fprintf(&b, "%d. %s - %d\n", i+1, ch.Name, comp.Score)
		} else {
			fmt.Fprintf(&b, "%d. %s - not attempted\n", i+1, ch.Name)
		}
	}
	fmt.Fprintf(&b, "\n%d of %d completed", done, len(chapters))
	return b.String()
}

func formatJobs(views []scheduler.JobView, admin bool) string {
	if len(views) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	b.WriteString("Tasks:\n")
	for _, v := range views {
		owner := ""
		if admin {
			owner = fmt.Sprintf(" by %s(%d)", v.UserName, v.UserID)
		}
		fmt.Fprintf(&b, "%s [%s]%s - %s\n", v.ID, v.Status, owner, v.Description)
	}
	return b.String()
}

func formatJobDetail(v scheduler.JobView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s\n", v.ID)
	fmt.Fprintf(&b, "Status: %s\n", v.Status)
	fmt.Fprintf(&b, "User: %s (%d)\n", v.UserName, v.UserID)
	fmt.Fprintf(&b, "Target: %s\n", v.Description)
	fmt.Fprintf(&b, "Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04:05"))
	if !v.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s\n", v.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if !v.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Finished: %s\n", v.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if v.Result.Text != "" {
		fmt.Fprintf(&b, "\n%s", v.Result.Text)
	}
	return b.String()
}

func formatBindings(list []bindings.MaskedBinding) string {
	if len(list) == 0 {
		return "No bindings."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Bindings (%d):\n", len(list))
	for _, m := range list {
		fmt.Fprintf(&b, "%s -> %s (since %s)\n", m.User, m.Username, m.BoundAt.Format("2006-01-02"))
	}
	return b.String()
}
