package commands

import (
	"context"
	"strings"
	"sync"
	"time"

	"quizbot/internal/bindings"
	"quizbot/internal/config"
	"quizbot/internal/kit"
	"quizbot/internal/pipeline"
	"quizbot/internal/platform"
	"quizbot/internal/scheduler"
	"quizbot/pkg/logx"
)

// Directory lists portal content on behalf of a bound user. The app wires
// this to a throwaway platform client logged in with the user's credentials.
type Directory interface {
	Courses(ctx context.Context, creds pipeline.Credentials) ([]platform.Course, error)
	Chapters(ctx context.Context, creds pipeline.Credentials, courseID int) ([]platform.Chapter, map[int]platform.Completion, error)
}

// Deps are the collaborators of the command router.
type Deps struct {
	Log      logx.Logger
	Adapter  kit.Adapter
	Cfg      *config.Manager
	Sched    *scheduler.Service
	Bindings *bindings.Store
	Dir      Directory
}

// cachedCourses is one user's last course listing; replaced wholesale on
// every refresh so positions stay consistent with what the user last saw.
type cachedCourses struct {
	Courses []platform.Course
	At      time.Time
}

type cachedChapters struct {
	Course      platform.Course
	Chapters    []platform.Chapter
	Completions map[int]platform.Completion
	At          time.Time
}

// Router parses chat commands and drives the scheduler, binding store and
// portal directory.
type Router struct {
	deps Deps

	mu       sync.Mutex
	courses  map[int64]*cachedCourses
	chapters map[int64]*cachedChapters
}

func NewRouter(deps Deps) *Router {
	return &Router{
		deps:     deps,
		courses:  make(map[int64]*cachedCourses),
		chapters: make(map[int64]*cachedChapters),
	}
}

// DispatchLoop consumes transport updates until ctx is canceled.
func (r *Router) DispatchLoop(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			if u.Kind != kit.UpdateMessage || u.Message == nil {
				continue
			}
			r.handle(ctx, u.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	cmd, args := splitCommand(text)
	if !r.allowed(msg, cmd) {
		return
	}

	// finished jobs older than the retention window vanish lazily
	r.deps.Sched.Cleanup(time.Now())

	log := r.deps.Log.With(logx.Int64("user", msg.FromID), logx.String("cmd", cmd))
	switch cmd {
	case "help":
		r.reply(ctx, msg, helpText)
	case "bind":
		r.handleBind(ctx, msg, args)
	case "courses":
		r.handleCourses(ctx, msg)
	case "chapters":
		r.handleChapters(ctx, msg, args)
	case "start":
		r.handleStart(ctx, msg, args)
	case "status":
		r.handleStatus(ctx, msg)
	case "cancel":
		r.handleCancel(ctx, msg, args)
	case "admin":
		r.handleAdmin(ctx, msg, args)
	default:
		log.Debug("unknown command")
		r.reply(ctx, msg, "Unknown command. Send /help for usage.")
	}
}

// splitCommand parses "/cmd@botname arg arg" into its name and argument rest.
func splitCommand(text string) (string, string) {
	fields := strings.SplitN(text, " ", 2)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	args := ""
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return strings.ToLower(cmd), args
}

// allowed enforces chat gating: private chats always work, groups only when
// allow-listed, credential and admin commands only in private.
func (r *Router) allowed(msg *kit.Message, cmd string) bool {
	cfg := r.deps.Cfg.Get()
	if cmd == "bind" || cmd == "admin" {
		return msg.Private
	}
	if msg.Private {
		return true
	}
	for _, id := range cfg.Telegram.AllowGroupIDs {
		if id == msg.ChatID {
			return true
		}
	}
	return false
}

func (r *Router) isAdmin(userID int64) bool {
	for _, id := range r.deps.Cfg.Get().Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, msg *kit.Message, text string) {
	if err := r.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, text); err != nil {
		r.deps.Log.Warn("reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
}

// creds loads the caller's binding, replying with guidance when absent.
func (r *Router) creds(ctx context.Context, msg *kit.Message) (pipeline.Credentials, bool) {
	c, err := r.deps.Bindings.Get(userKey(msg.FromID))
	if err != nil {
		r.deps.Log.Error("binding lookup failed", logx.Int64("user", msg.FromID), logx.Err(err))
		r.reply(ctx, msg, "Could not read your binding. Try again later.")
		return pipeline.Credentials{}, false
	}
	if c == nil {
		r.reply(ctx, msg, "No account bound yet. Send /bind <username> <password> in a private chat.")
		return pipeline.Credentials{}, false
	}
	return pipeline.Credentials{Username: c.Username, Secret: c.Secret}, true
}
