package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"quizbot/internal/platform"
)

// Mode selects which chapters of a course a run works on.
type Mode string

const (
	ModeAll        Mode = "all"
	ModeIncomplete Mode = "incomplete"
	ModeExplicit   Mode = "explicit" // Spec holds a 1-based index list, "1,3,5"
	ModeRange      Mode = "range"    // Spec holds a 1-based span, "2-6"
)

// Target identifies the course and chapter selection of one run.
type Target struct {
	CourseID   int
	CourseName string
	Mode       Mode
	Spec       string
}

// ParseIndexList parses an explicit selection such as "1, 3,5". Indices are
// deduplicated and returned ascending; zero and negative entries are invalid.
func ParseIndexList(spec string) ([]int, error) {
	spec = strings.ReplaceAll(spec, "，", ",")
	seen := map[int]bool{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter index %q", part)
		}
		if n <= 0 {
			return nil, fmt.Errorf("chapter index must be positive, got %d", n)
		}
		seen[n] = true
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty chapter list")
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// ParseRange parses "start-end"; both ends are positive and start may not
// exceed end.
func ParseRange(spec string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range must look like 2-6, got %q", spec)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("range must look like 2-6, got %q", spec)
	}
	if start <= 0 || end <= 0 {
		return 0, 0, fmt.Errorf("range bounds must be positive, got %q", spec)
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start %d exceeds end %d", start, end)
	}
	return start, end, nil
}

// ValidateTarget rejects malformed selections up front, before the runner
// touches the network.
func ValidateTarget(t Target) error {
	if t.CourseID <= 0 {
		return fmt.Errorf("course id must be positive, got %d", t.CourseID)
	}
	switch t.Mode {
	case ModeAll, ModeIncomplete:
		return nil
	case ModeExplicit:
		_, err := ParseIndexList(t.Spec)
		return err
	case ModeRange:
		_, _, err := ParseRange(t.Spec)
		return err
	default:
		return fmt.Errorf("unknown selection mode %q", t.Mode)
	}
}

// selectChapters applies the target mode to the discovered chapter list.
// A chapter counts as completed when a graded score exists for it. Explicit
// indices and range bounds outside the list are dropped silently.
func selectChapters(chapters []platform.Chapter, completions map[int]platform.Completion, t Target) ([]platform.Chapter, error) {
	switch t.Mode {
	case ModeAll:
		return chapters, nil

	case ModeIncomplete:
		var out []platform.Chapter
		for _, ch := range chapters {
			if _, done := completions[ch.ID]; !done {
				out = append(out, ch)
			}
		}
		return out, nil

	case ModeExplicit:
		indices, err := ParseIndexList(t.Spec)
		if err != nil {
			return nil, err
		}
		var out []platform.Chapter
		for _, idx := range indices {
			if idx >= 1 && idx <= len(chapters) {
				out = append(out, chapters[idx-1])
			}
		}
		return out, nil

	case ModeRange:
		start, end, err := ParseRange(t.Spec)
		if err != nil {
			return nil, err
		}
		if start > len(chapters) {
			return nil, nil
		}
		if end > len(chapters) {
			end = len(chapters)
		}
		return chapters[start-1 : end], nil

	default:
		return nil, fmt.Errorf("unknown selection mode %q", t.Mode)
	}
}
