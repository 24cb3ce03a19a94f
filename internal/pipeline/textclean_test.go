package pipeline

import "testing"

func TestNormalizeScrapedText(t *testing.T) {
	t.Parallel()

	got := normalizeScrapedText("line one\nline two\r\\'quoted\\' and \\\"double\\\" plus \\$5")
	want := `line one line two 'quoted' and "double" plus $5`
	if got != want {
		t.Fatalf("unexpected normalization\nwant: %q\ngot:  %q", want, got)
	}
}

func TestProcessDescription_DropsRepeatedOpening(t *testing.T) {
	t.Parallel()

	text := "Meet the lantern. Preview paragraph about rewards. Meet the lantern. The real story starts here."
	got := ProcessDescription(text)
	want := "Meet the lantern. The real story starts here."
	if got != want {
		t.Fatalf("unexpected cleanup\nwant: %q\ngot:  %q", want, got)
	}
}

func TestProcessDescription_KeepsUnrepeatedText(t *testing.T) {
	t.Parallel()

	text := "One sentence. Another sentence."
	if got := ProcessDescription(text); got != text {
		t.Fatalf("expected text without a repeated opening to stay whole, got %q", got)
	}
	if got := ProcessDescription(""); got != "" {
		t.Fatalf("expected empty text to stay empty, got %q", got)
	}
}

func TestProcessBlurb_NeverDropsOpening(t *testing.T) {
	t.Parallel()

	text := "Fund us. Really. Fund us. Now."
	if got := ProcessBlurb(text); got != text {
		t.Fatalf("expected a blurb to keep its opening, got %q", got)
	}
}

func TestDescriptionLength(t *testing.T) {
	t.Parallel()

	if got := DescriptionLength("  two   words "); got != 2 {
		t.Fatalf("unexpected token count: %d", got)
	}
	if got := DescriptionLength(""); got != 0 {
		t.Fatalf("expected zero tokens for empty text, got %d", got)
	}
}
