// Package chunk splits raw text into overlapping retrieval-sized pieces.
// Strategies differ only in where they draw semantic boundaries; sizing,
// overlap and index bookkeeping are shared.
package chunk

import "strings"

type Chunk struct {
	// Index is 0-based and contiguous; Total is identical across all chunks
	// of one item and always equals the emitted chunk count.
	Index int
	Total int

	Content string
	Snippet string

	// OverlapStart is the number of leading characters shared with the tail
	// of the previous chunk; OverlapEnd mirrors it on the other side. The
	// overlap preserves cross-chunk context for retrieval; it is never used
	// to re-derive content.
	OverlapStart int
	OverlapEnd   int
}

type Options struct {
	MaxSize int
	Overlap int
}

func DefaultOptions() Options {
	return Options{MaxSize: 2000, Overlap: 200}
}

// Strategy produces semantic segments. Segments longer than MaxSize are
// re-split by the shared pipeline, so strategies only need to find good
// boundaries, not enforce sizes.
type Strategy interface {
	Name() string
	Segments(content string, opts Options) []string
}

// Content splits text using the strategy registered for the source type.
func Content(sourceType, content string, opts Options) []Chunk {
	return Split(ForSourceType(sourceType), content, opts)
}

// Split runs the full pipeline: segment, re-fit oversized segments, apply
// overlap, then finalize indices. Total is only assigned once the complete
// split is known.
func Split(strategy Strategy, content string, opts Options) []Chunk {
	if len(content) <= opts.MaxSize {
		return []Chunk{{
			Index:   0,
			Total:   1,
			Content: content,
			Snippet: snippet(content),
		}}
	}

	segments := refit(strategy.Segments(content, opts), opts)

	chunks := make([]Chunk, len(segments))
	for i, seg := range segments {
		chunks[i].Content = seg
	}

	for i := 1; i < len(chunks); i++ {
		tail := overlapTail(segments[i-1], opts.Overlap)
		if tail == "" {
			continue
		}
		chunks[i].Content = tail + chunks[i].Content
		chunks[i].OverlapStart = len(tail)
		chunks[i-1].OverlapEnd = len(tail)
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
		chunks[i].Snippet = snippet(chunks[i].Content)
	}
	return chunks
}

// refit re-splits any segment exceeding MaxSize by paragraphs, then falls
// back to fixed windows for paragraph-less blobs.
func refit(segments []string, opts Options) []string {
	var out []string
	for _, seg := range segments {
		if len(seg) <= opts.MaxSize {
			out = append(out, seg)
			continue
		}
		for _, para := range packParagraphs(seg, opts.MaxSize) {
			if len(para) <= opts.MaxSize {
				out = append(out, para)
			} else {
				out = append(out, windows(para, opts.MaxSize)...)
			}
		}
	}
	return out
}

// overlapTail returns the tail of the previous chunk, trimmed forward to the
// nearest sentence boundary when one exists inside the window.
func overlapTail(s string, overlap int) string {
	if overlap <= 0 || s == "" {
		return ""
	}
	if overlap > len(s) {
		overlap = len(s)
	}
	tail := s[len(s)-overlap:]

	best := -1
	bestLen := 0
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(tail, sep); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestLen = len(sep)
		}
	}
	if best >= 0 && best+bestLen < len(tail) {
		return tail[best+bestLen:]
	}
	return tail
}

func snippet(content string) string {
	const max = 120
	s := strings.TrimSpace(content)
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < max {
		return s[:nl]
	}
	if len(s) > max {
		return s[:max]
	}
	return s
}
