package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quizbot/internal/bindings"
	"quizbot/internal/kit"
	"quizbot/internal/pipeline"
	"quizbot/internal/platform"
	"quizbot/internal/scheduler"
	"quizbot/pkg/logx"
)

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

func (r *Router) handleBind(ctx context.Context, msg *kit.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		r.reply(ctx, msg, "Usage: /bind <username> <password>")
		return
	}
	status, err := r.deps.Bindings.Bind(userKey(msg.FromID), fields[0], fields[1])
	switch {
	case errors.Is(err, bindings.ErrBindingConflict):
		r.reply(ctx, msg, "You are already bound to a different account. Ask an admin to unbind you first.")
	case err != nil:
		r.deps.Log.Error("bind failed", logx.Int64("user", msg.FromID), logx.Err(err))
		r.reply(ctx, msg, "Binding failed. Try again later.")
	case status == bindings.StatusSecretUpdated:
		r.reply(ctx, msg, fmt.Sprintf("Password updated for %s.", bindings.Mask(fields[0], 2)))
	default:
		r.reply(ctx, msg, fmt.Sprintf("Account %s bound.", bindings.Mask(fields[0], 2)))
	}
}

func (r *Router) handleCourses(ctx context.Context, msg *kit.Message) {
	creds, ok := r.creds(ctx, msg)
	if !ok {
		return
	}
	courses, err := r.deps.Dir.Courses(ctx, creds)
	if err != nil {
		r.deps.Log.Warn("course listing failed", logx.Int64("user", msg.FromID), logx.Err(err))
		r.reply(ctx, msg, "Could not fetch courses: "+err.Error())
		return
	}

	r.mu.Lock()
	r.courses[msg.FromID] = &cachedCourses{Courses: courses, At: time.Now()}
	r.mu.Unlock()

	r.reply(ctx, msg, formatCourses(courses, r.deps.Cfg.Get().Automation.TargetCourses))
}

func (r *Router) handleChapters(ctx context.Context, msg *kit.Message, args string) {
	if args == "" {
		r.reply(ctx, msg, "Usage: /chapters <course number, id or name>")
		return
	}
	creds, ok := r.creds(ctx, msg)
	if !ok {
		return
	}
	course, ok := r.resolveCourse(ctx, msg, creds, args)
	if !ok {
		return
	}

	chapters, completions, err := r.deps.Dir.Chapters(ctx, creds, course.ID)
	if err != nil {
		r.deps.Log.Warn("chapter listing failed",
			logx.Int64("user", msg.FromID), logx.Int("course", course.ID), logx.Err(err))
		r.reply(ctx, msg, "Could not fetch chapters: "+err.Error())
		return
	}

	r.mu.Lock()
	r.chapters[msg.FromID] = &cachedChapters{
		Course:      course,
		Chapters:    chapters,
		Completions: completions,
		At:          time.Now(),
	}
	r.mu.Unlock()

	r.reply(ctx, msg, formatChapters(course, chapters, completions))
}

func (r *Router) handleStart(ctx context.Context, msg *kit.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.reply(ctx, msg, "Usage: /start <course> [all|incomplete|1,3,5|2-6]")
		return
	}
	creds, ok := r.creds(ctx, msg)
	if !ok {
		return
	}
	course, ok := r.resolveCourse(ctx, msg, creds, fields[0])
	if !ok {
		return
	}

	mode, spec, err := parseMode(strings.Join(fields[1:], " "))
	if err != nil {
		r.reply(ctx, msg, err.Error())
		return
	}
	if err := pipeline.ValidateTarget(pipeline.Target{
		CourseID: course.ID, Mode: mode, Spec: spec,
	}); err != nil {
		r.reply(ctx, msg, "Invalid selection: "+err.Error())
		return
	}

	view, position, err := r.deps.Sched.Submit(scheduler.SubmitRequest{
		UserID:      msg.FromID,
		UserName:    msg.FromUsername,
		ChatID:      msg.ChatID,
		CourseID:    course.ID,
		CourseName:  course.Name,
		Mode:        string(mode),
		Spec:        spec,
		Description: describeJob(course, mode, spec),
	})
	switch {
	case errors.Is(err, scheduler.ErrActiveJob):
		r.reply(ctx, msg, "You already have an active task. Cancel it with /cancel first.")
	case errors.Is(err, scheduler.ErrQueueFull):
		r.reply(ctx, msg, "The task queue is full. Try again in a few minutes.")
	case err != nil:
		r.deps.Log.Error("submit failed", logx.Int64("user", msg.FromID), logx.Err(err))
		r.reply(ctx, msg, "Could not queue the task: "+err.Error())
	default:
		r.reply(ctx, msg, fmt.Sprintf("Task %s queued at position %d: %s", view.ID, position, view.Description))
	}
}

func (r *Router) handleStatus(ctx context.Context, msg *kit.Message) {
	views := r.deps.Sched.Status(msg.FromID)
	r.reply(ctx, msg, formatJobs(views, false))
}

func (r *Router) handleCancel(ctx context.Context, msg *kit.Message, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		active, ok := r.deps.Sched.ActiveJob(msg.FromID)
		if !ok {
			r.reply(ctx, msg, "You have no active task.")
			return
		}
		id = active.ID
	}

	status, err := r.deps.Sched.Cancel(id, msg.FromID, false)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		r.reply(ctx, msg, "No such task: "+id)
	case errors.Is(err, scheduler.ErrNotOwner):
		r.reply(ctx, msg, "That task belongs to someone else.")
	case errors.Is(err, scheduler.ErrFinished):
		r.reply(ctx, msg, fmt.Sprintf("Task %s already finished (%s).", id, status))
	case err != nil:
		r.reply(ctx, msg, "Cancel failed: "+err.Error())
	case status == scheduler.StatusCanceled:
		r.reply(ctx, msg, fmt.Sprintf("Task %s canceled.", id))
	default:
		r.reply(ctx, msg, fmt.Sprintf("Task %s is stopping; it will halt at the next chapter boundary.", id))
	}
}

func (r *Router) handleAdmin(ctx context.Context, msg *kit.Message, args string) {
	if !r.isAdmin(msg.FromID) {
		return
	}
	fields := strings.Fields(args)
	sub := "list"
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}

	switch sub {
	case "list":
		r.reply(ctx, msg, formatJobs(r.deps.Sched.AdminList(), true))
	case "detail":
		if len(fields) < 2 {
			r.reply(ctx, msg, "Usage: /admin detail <task id>")
			return
		}
		view, ok := r.deps.Sched.AdminDetail(fields[1])
		if !ok {
			r.reply(ctx, msg, "No such task: "+fields[1])
			return
		}
		r.reply(ctx, msg, formatJobDetail(view))
	case "cancel":
		if len(fields) < 2 {
			r.reply(ctx, msg, "Usage: /admin cancel <task id>")
			return
		}
		status, err := r.deps.Sched.Cancel(fields[1], msg.FromID, true)
		if err != nil {
			r.reply(ctx, msg, "Cancel failed: "+err.Error())
			return
		}
		r.reply(ctx, msg, fmt.Sprintf("Task %s -> %s", fields[1], status))
	case "bindings":
		r.reply(ctx, msg, formatBindings(r.deps.Bindings.ListMasked()))
	default:
		r.reply(ctx, msg, "Usage: /admin [list|detail <id>|cancel <id>|bindings]")
	}
}

// resolveCourse maps a user-supplied token to a course: a cached course ID,
// a 1-based position in the last listing, or a case-insensitive name
// substring. The course cache is refreshed when empty.
func (r *Router) resolveCourse(ctx context.Context, msg *kit.Message, creds pipeline.Credentials, token string) (platform.Course, bool) {
	token = strings.TrimSpace(token)

	r.mu.Lock()
	cache := r.courses[msg.FromID]
	r.mu.Unlock()

	if cache == nil {
		courses, err := r.deps.Dir.Courses(ctx, creds)
		if err != nil {
			r.reply(ctx, msg, "Could not fetch courses: "+err.Error())
			return platform.Course{}, false
		}
		cache = &cachedCourses{Courses: courses, At: time.Now()}
		r.mu.Lock()
		r.courses[msg.FromID] = cache
		r.mu.Unlock()
	}

	if n, err := strconv.Atoi(token); err == nil {
		for _, c := range cache.Courses {
			if c.ID == n {
				return c, true
			}
		}
		if n >= 1 && n <= len(cache.Courses) {
			return cache.Courses[n-1], true
		}
	}

	needle := strings.ToLower(token)
	for _, c := range cache.Courses {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			return c, true
		}
	}

	r.reply(ctx, msg, fmt.Sprintf("No course matches %q. Send /courses to see the list.", token))
	return platform.Course{}, false
}

var rangeTokenRe = regexp.MustCompile(`^\d+\s*-\s*\d+$`)

// parseMode interprets the selection argument of /start. Bare index lists
// ("1,3,5") and ranges ("2-6") are accepted without a mode keyword.
func parseMode(arg string) (pipeline.Mode, string, error) {
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(arg) {
	case "", "incomplete", "todo":
		return pipeline.ModeIncomplete, "", nil
	case "all":
		return pipeline.ModeAll, "", nil
	}
	if rangeTokenRe.MatchString(arg) {
		return pipeline.ModeRange, arg, nil
	}
	if strings.ContainsAny(arg, ",，") {
		return pipeline.ModeExplicit, arg, nil
	}
	if _, err := strconv.Atoi(arg); err == nil {
		return pipeline.ModeExplicit, arg, nil
	}
	return "", "", fmt.Errorf("unrecognized selection %q: use all, incomplete, 1,3,5 or 2-6", arg)
}

func describeJob(course platform.Course, mode pipeline.Mode, spec string) string {
	switch mode {
	case pipeline.ModeAll:
		return fmt.Sprintf("%s, all chapters", course.Name)
	case pipeline.ModeExplicit:
		return fmt.Sprintf("%s, chapters %s", course.Name, spec)
	case pipeline.ModeRange:
		return fmt.Sprintf("%s, chapters %s", course.Name, spec)
	default:
		return fmt.Sprintf("%s, incomplete chapters", course.Name)
	}
}
