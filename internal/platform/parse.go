package platform

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// The portal renders server-side HTML with stable link shapes, so scraping
// runs on anchored regexes rather than a DOM parser.
var (
	courseLinkRe  = regexp.MustCompile(`/index/exam/lists/course_id/(\d+)`)
	headingRe     = regexp.MustCompile(`(?s)<h2[^>]*class="[^"]*widget-heading[^"]*"[^>]*>(.*?)</h2>`)
	chapterLinkRe = regexp.MustCompile(`(?s)<a[^>]+href="[^"]*/index/exam/show/id/(\d+)[^"]*"[^>]*>(.*?)</a>`)
	rowRe         = regexp.MustCompile(`(?s)<tr[^>]*>(.*?)</tr>`)
	rowChapterRe  = regexp.MustCompile(`/index/exam/show/id/(\d+)`)
	scoreRe       = regexp.MustCompile(`(\d+)\s*分`)

	formRe       = regexp.MustCompile(`(?s)<form[^>]*id="post_form"[^>]*>`)
	anyFormRe    = regexp.MustCompile(`(?s)<form[^>]*>`)
	actionAttrRe = regexp.MustCompile(`action="([^"]*)"`)

	questionBlockRe = regexp.MustCompile(`(?s)<ul[^>]*class="[^"]*question[^"]*"[^>]*>(.*?)</ul>`)
	questionTitleRe = regexp.MustCompile(`(?s)<li[^>]*class="[^"]*question_title[^"]*"[^>]*>(.*?)</li>`)
	questionInfoRe  = regexp.MustCompile(`(?s)<li[^>]*class="[^"]*question_info[^"]*"[^>]*>(.*?)</li>`)
	inputTagRe      = regexp.MustCompile(`<input[^>]*>`)
	nameAttrRe      = regexp.MustCompile(`name="([^"]+)"`)
	valueAttrRe     = regexp.MustCompile(`value="([^"]*)"`)

	tagRe   = regexp.MustCompile(`<[^>]+>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// cleanText strips tags and entities and collapses whitespace.
func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// parseCourses extracts course widgets from the exam index page. Each course
// link is paired with the nearest preceding widget heading; duplicates keep
// the first occurrence.
func parseCourses(page string) []Course {
	headings := headingRe.FindAllStringSubmatchIndex(page, -1)
	links := courseLinkRe.FindAllStringSubmatchIndex(page, -1)

	seen := make(map[int]bool, len(links))
	var out []Course
	for _, l := range links {
		id, err := strconv.Atoi(page[l[2]:l[3]])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true

		name := fmt.Sprintf("Course %d", id)
		for _, h := range headings {
			if h[1] > l[0] {
				break
			}
			if t := cleanText(page[h[2]:h[3]]); t != "" {
				name = t
			}
		}
		out = append(out, Course{ID: id, Name: name})
	}
	return out
}

// parseChapters extracts the chapter list of a course page, first occurrence
// wins, document order preserved.
func parseChapters(page string) []Chapter {
	seen := make(map[int]bool)
	var out []Chapter
	for _, m := range chapterLinkRe.FindAllStringSubmatch(page, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		name := cleanText(m[2])
		if name == "" {
			name = fmt.Sprintf("Chapter %d", id)
		}
		out = append(out, Chapter{ID: id, Name: name})
	}
	return out
}

// parseCompletions scans result-table rows for a chapter link plus a numeric
// score ("85 分"). Rows lacking either are ignored; repeated attempts keep the
// best score.
func parseCompletions(page string) map[int]Completion {
	out := map[int]Completion{}
	for _, row := range rowRe.FindAllStringSubmatch(page, -1) {
		idm := rowChapterRe.FindStringSubmatch(row[1])
		if idm == nil {
			continue
		}
		sm := scoreRe.FindStringSubmatch(row[1])
		if sm == nil {
			continue
		}
		id, err1 := strconv.Atoi(idm[1])
		score, err2 := strconv.Atoi(sm[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if prev, ok := out[id]; !ok || score > prev.Score {
			out[id] = Completion{ChapterID: id, Score: score}
		}
	}
	return out
}

// parseQuestions extracts the answer form of a chapter page: the post action
// plus one Question per question block. Blocks without a title or without any
// named input are dropped.
func parseQuestions(page string) (action string, questions []Question) {
	formTag := formRe.FindString(page)
	if formTag == "" {
		formTag = anyFormRe.FindString(page)
	}
	if m := actionAttrRe.FindStringSubmatch(formTag); m != nil {
		action = strings.TrimSpace(m[1])
	}

	for _, block := range questionBlockRe.FindAllStringSubmatch(page, -1) {
		tm := questionTitleRe.FindStringSubmatch(block[1])
		if tm == nil {
			continue
		}
		q := Question{Text: cleanText(tm[1])}
		if q.Text == "" {
			continue
		}

		for _, info := range questionInfoRe.FindAllStringSubmatch(block[1], -1) {
			input := inputTagRe.FindString(info[1])
			if input == "" {
				continue
			}
			nm := nameAttrRe.FindStringSubmatch(input)
			vm := valueAttrRe.FindStringSubmatch(input)
			if nm == nil || vm == nil {
				continue
			}
			if q.FieldName == "" {
				q.FieldName = nm[1]
			}
			text := cleanText(inputTagRe.ReplaceAllString(info[1], " "))
			q.Options = append(q.Options, Option{Value: vm[1], Text: text})
		}

		if q.FieldName == "" {
			continue
		}
		questions = append(questions, q)
	}
	return action, questions
}
