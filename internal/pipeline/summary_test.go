package pipeline

import "testing"

func TestFallbackSummary(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "truncates to three sentences",
			text: "A. B. C. D. E.",
			want: "A. B. C....",
		},
		{
			name: "short text kept whole",
			text: "One sentence. Two sentences.",
			want: "One sentence. Two sentences.",
		},
		{
			name: "mixed terminators",
			text: "Really? Yes! Definitely. And more. And more still.",
			want: "Really. Yes. Definitely....",
		},
		{
			name: "empty input",
			text: "",
			want: "",
		},
		{
			name: "whitespace only",
			text: "   \n\t ",
			want: "",
		},
		{
			name: "single sentence without terminator",
			text: "no punctuation at all",
			want: "no punctuation at all.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FallbackSummary(tt.text); got != tt.want {
				t.Errorf("FallbackSummary(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
