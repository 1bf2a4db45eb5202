package chunk

// ForSourceType resolves the strategy for a source type. Unknown types get
// the fixed-window fallback. Resolution is a pure lookup; strategies are
// stateless and shared.
func ForSourceType(sourceType string) Strategy {
	switch sourceType {
	case "legal":
		return SectionStrategy{}
	case "rss":
		return ParagraphStrategy{}
	case "wiki":
		return HeadingStrategy{}
	case "docs":
		return CodeAwareStrategy{}
	default:
		return WindowStrategy{}
	}
}
