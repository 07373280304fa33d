package textutil

import "testing"

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                        "",
		"  plain  ":                               "plain",
		"<b>Leave</b> at the <i>door</i>":         "Leave at the door",
		"<script>alert(1)</script>Ring twice":     "Ring twice",
		"line\tbreak\rhere":                       "line break here",
		"Tom &amp; Jerry":                         "Tom & Jerry",
		"  multiple   spaces\n\nand   newlines ": "multiple spaces and newlines",
	}
	for input, want := range cases {
		if got := SanitizeText(input); got != want {
			t.Fatalf("SanitizeText(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := TruncateRunes("注文番号", 2); got != "注文" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
	if got := TruncateRunes("short", 10); got != "short" {
		t.Fatalf("expected unchanged value, got %q", got)
	}
	if got := TruncateRunes("x", 0); got != "" {
		t.Fatalf("expected empty for zero max, got %q", got)
	}
}
