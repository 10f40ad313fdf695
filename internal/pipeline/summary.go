package pipeline

import "strings"

// fallbackSentenceCount is how many leading sentences the deterministic
// summary keeps when the summarization service is unreachable.
const fallbackSentenceCount = 3

// FallbackSummary builds a deterministic summary from the first three
// non-empty sentences of text, appending an ellipsis when more followed.
// It guarantees the pipeline never fails an otherwise-successful
// transcription merely because the summarizer is down.
func FallbackSummary(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	kept := sentences
	truncated := false
	if len(kept) > fallbackSentenceCount {
		kept = kept[:fallbackSentenceCount]
		truncated = true
	}

	summary := strings.Join(kept, ". ") + "."
	if truncated {
		summary += "..."
	}
	return summary
}

// splitSentences splits on sentence terminators, dropping empty fragments.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch r {
		case '.', '!', '?':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return sentences
}
