package chunk

import (
	"regexp"
	"sort"
	"strings"
)

// WindowStrategy is the fallback: fixed character windows, no semantic
// boundaries at all.
type WindowStrategy struct{}

func (WindowStrategy) Name() string { return "window" }

func (WindowStrategy) Segments(content string, opts Options) []string {
	return windows(content, opts.MaxSize)
}

func windows(content string, size int) []string {
	if size <= 0 || content == "" {
		return []string{content}
	}
	var out []string
	for len(content) > size {
		out = append(out, content[:size])
		content = content[size:]
	}
	if len(content) > 0 {
		out = append(out, content)
	}
	return out
}

// ParagraphStrategy splits at blank lines and greedily packs paragraphs into
// segments near MaxSize.
type ParagraphStrategy struct{}

func (ParagraphStrategy) Name() string { return "paragraph" }

func (ParagraphStrategy) Segments(content string, opts Options) []string {
	return packParagraphs(content, opts.MaxSize)
}

func packParagraphs(content string, maxSize int) []string {
	paragraphs := strings.Split(content, "\n\n")

	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	if len(segments) == 0 {
		return []string{content}
	}
	return segments
}

var (
	markdownHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s`)
	wikiHeadingRe     = regexp.MustCompile(`(?m)^={2,6}[^=\n]+={2,6}\s*$`)
	legalSectionRe    = regexp.MustCompile(`(?m)^(?:ARTICLE|Article|SECTION|Section|§|Art\.|Sec\.)\s+[0-9IVXLCivxlc]|^\d+(?:\.\d+)*\.?\s+[A-Z]`)
)

// HeadingStrategy splits at markdown (#) and mediawiki (==) headings. Runs
// of body text between headings stay together.
type HeadingStrategy struct{}

func (HeadingStrategy) Name() string { return "heading" }

func (HeadingStrategy) Segments(content string, opts Options) []string {
	marks := markdownHeadingRe.FindAllStringIndex(content, -1)
	marks = append(marks, wikiHeadingRe.FindAllStringIndex(content, -1)...)
	return splitAt(content, marks)
}

// SectionStrategy splits legal corpora at article/section markers and
// numbered clause headings.
type SectionStrategy struct{}

func (SectionStrategy) Name() string { return "section" }

func (SectionStrategy) Segments(content string, opts Options) []string {
	return splitAt(content, legalSectionRe.FindAllStringIndex(content, -1))
}

// CodeAwareStrategy keeps fenced code blocks intact and packs the prose
// around them by paragraphs.
type CodeAwareStrategy struct{}

func (CodeAwareStrategy) Name() string { return "code" }

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_]*[[:space:]]*\\n.*?\\n[[:space:]]*```")

func (CodeAwareStrategy) Segments(content string, opts Options) []string {
	var segments []string
	last := 0
	for _, m := range fenceRe.FindAllStringIndex(content, -1) {
		if m[0] > last {
			prose := strings.TrimSpace(content[last:m[0]])
			if prose != "" {
				segments = append(segments, packParagraphs(prose, opts.MaxSize)...)
			}
		}
		segments = append(segments, content[m[0]:m[1]])
		last = m[1]
	}
	if last < len(content) {
		prose := strings.TrimSpace(content[last:])
		if prose != "" {
			segments = append(segments, packParagraphs(prose, opts.MaxSize)...)
		}
	}
	if len(segments) == 0 {
		return []string{content}
	}
	return segments
}

// splitAt cuts content immediately before each match start, sorted and
// deduplicated. Content before the first boundary forms its own segment.
func splitAt(content string, marks [][]int) []string {
	if len(marks) == 0 {
		return []string{content}
	}

	starts := make([]int, 0, len(marks))
	for _, m := range marks {
		starts = append(starts, m[0])
	}
	sort.Ints(starts)

	var segments []string
	prev := 0
	for _, s := range starts {
		if s > prev {
			segments = append(segments, content[prev:s])
			prev = s
		}
	}
	if prev < len(content) {
		segments = append(segments, content[prev:])
	}
	return segments
}
