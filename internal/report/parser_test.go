package report

import "testing"

func TestParse_EmptyBuffer(t *testing.T) {
	if got := Parse(""); got != nil {
		t.Errorf("expected nil for empty buffer, got %v", got)
	}
	if got := Parse("   \n\t "); got != nil {
		t.Errorf("expected nil for whitespace buffer, got %v", got)
	}
}

func TestParse_RawFallback(t *testing.T) {
	sections := Parse("Just a plain prose answer with no markup.")

	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].Title != "" {
		t.Errorf("expected untitled section, got title '%s'", sections[0].Title)
	}
	if len(sections[0].Parts) != 1 || sections[0].Parts[0].Type != PartText {
		t.Fatalf("expected single text part, got %v", sections[0].Parts)
	}
	if sections[0].Parts[0].Text != "Just a plain prose answer with no markup." {
		t.Errorf("unexpected text: '%s'", sections[0].Parts[0].Text)
	}
}

func TestParse_CompleteSection(t *testing.T) {
	buffer := `<section title="History">` +
		`<text>Early developments.</text>` +
		`<code>print("hi")</code>` +
		`<image src="https://img.example/a.png" alt="diagram" />` +
		`<sources><link url="https://a.example" title="Paper A" /><link url="https://b.example" title="Paper B" /></sources>` +
		`</section>`

	sections := Parse(buffer)
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}

	s := sections[0]
	if s.Title != "History" {
		t.Errorf("expected title 'History', got '%s'", s.Title)
	}
	if len(s.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %v", len(s.Parts), s.Parts)
	}
	if s.Parts[0].Type != PartText || s.Parts[0].Text != "Early developments." {
		t.Errorf("unexpected first part: %+v", s.Parts[0])
	}
	if s.Parts[1].Type != PartCode || s.Parts[1].Text != `print("hi")` {
		t.Errorf("unexpected code part: %+v", s.Parts[1])
	}
	if s.Parts[2].Type != PartImage || s.Parts[2].URL != "https://img.example/a.png" || s.Parts[2].Caption != "diagram" {
		t.Errorf("unexpected image part: %+v", s.Parts[2])
	}
	if len(s.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(s.Sources))
	}
	if s.Sources[0].URL != "https://a.example" || s.Sources[0].Title != "Paper A" {
		t.Errorf("unexpected first source: %+v", s.Sources[0])
	}
}

func TestParse_MultipleSections(t *testing.T) {
	buffer := `<section title="One"><text>first</text></section>` +
		`<section title="Two"><text>second</text></section>`

	sections := Parse(buffer)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0].Title != "One" || sections[1].Title != "Two" {
		t.Errorf("unexpected titles: '%s', '%s'", sections[0].Title, sections[1].Title)
	}
}

func TestParse_PartialOpeningTag(t *testing.T) {
	// The buffer stops mid-attribute; no body exists yet.
	sections := Parse(`<section title="Hist`)

	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if len(sections[0].Parts) != 0 {
		t.Errorf("expected no parts for unterminated opening tag, got %v", sections[0].Parts)
	}
}

func TestParse_PartialTextContent(t *testing.T) {
	sections := Parse(`<section title="A"><text>streaming in prog`)

	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	parts := sections[0].Parts
	if len(parts) != 1 || parts[0].Type != PartText {
		t.Fatalf("expected single text part, got %v", parts)
	}
	if parts[0].Text != "streaming in prog" {
		t.Errorf("expected partial content to surface, got '%s'", parts[0].Text)
	}
}

func TestParse_EveryPrefixParses(t *testing.T) {
	full := `<section title="A"><text>hello world</text>` +
		`<image src="https://img.example/a.png" alt="d" />` +
		`<sources><link url="https://x.example" title="X" /></sources></section>`

	// Every prefix must parse without panicking and never yield more than
	// one section for this buffer.
	for i := 0; i <= len(full); i++ {
		sections := Parse(full[:i])
		if len(sections) > 1 {
			t.Fatalf("prefix %d yielded %d sections", i, len(sections))
		}
	}

	// The complete buffer parses fully.
	sections := Parse(full)
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if len(sections[0].Parts) != 2 || len(sections[0].Sources) != 1 {
		t.Errorf("unexpected final parse: parts=%v sources=%v",
			sections[0].Parts, sections[0].Sources)
	}
}

func TestParse_EmbeddedCodeInText(t *testing.T) {
	buffer := `<section title="A"><text>Before <code>x := 1</code> after.</text></section>`

	sections := Parse(buffer)
	parts := sections[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %v", len(parts), parts)
	}
	if parts[0].Type != PartText || parts[0].Text != "Before" {
		t.Errorf("unexpected part 0: %+v", parts[0])
	}
	if parts[1].Type != PartCode || parts[1].Text != "x := 1" {
		t.Errorf("unexpected part 1: %+v", parts[1])
	}
	if parts[2].Type != PartText || parts[2].Text != "after." {
		t.Errorf("unexpected part 2: %+v", parts[2])
	}
}

func TestParse_UnterminatedEmbeddedCode(t *testing.T) {
	buffer := `<section title="A"><text>Intro <code>partial code`

	sections := Parse(buffer)
	parts := sections[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %v", len(parts), parts)
	}
	if parts[1].Type != PartCode || parts[1].Text != "partial code" {
		t.Errorf("expected partial code part, got %+v", parts[1])
	}
}

func TestParse_WhitespaceOnlyPartsDropped(t *testing.T) {
	buffer := `<section title="A"><text>   </text><text>real</text></section>`

	sections := Parse(buffer)
	parts := sections[0].Parts
	if len(parts) != 1 || parts[0].Text != "real" {
		t.Errorf("expected whitespace part dropped, got %v", parts)
	}
}

func TestParse_ImageWithoutSrcSkipped(t *testing.T) {
	buffer := `<section title="A"><image alt="nope" /><text>t</text></section>`

	sections := Parse(buffer)
	parts := sections[0].Parts
	if len(parts) != 1 || parts[0].Type != PartText {
		t.Errorf("expected image without src skipped, got %v", parts)
	}
}

func TestParse_TruncatedImageTagYieldsNothing(t *testing.T) {
	buffer := `<section title="A"><text>done</text><image src="https://x`

	sections := Parse(buffer)
	parts := sections[0].Parts
	if len(parts) != 1 || parts[0].Text != "done" {
		t.Errorf("expected only the finished text part, got %v", parts)
	}
}

func TestParse_MalformedLinksSkipped(t *testing.T) {
	buffer := `<section title="A"><text>t</text><sources>` +
		`<link title="no url attr" />` +
		`<link url="" title="empty url" />` +
		`<link url="https://good.example" title="Good" />` +
		`<link url="https://trunc` // truncated, never closed

	sections := Parse(buffer)
	sources := sections[0].Sources
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d: %v", len(sources), sources)
	}
	if sources[0].URL != "https://good.example" {
		t.Errorf("unexpected source: %+v", sources[0])
	}
}

func TestParse_SourcesWithoutClosingTags(t *testing.T) {
	// Sources block terminated only by the section close.
	buffer := `<section title="A"><text>t</text><sources><link url="https://x.example" title="X" /></section>`

	sections := Parse(buffer)
	if len(sections[0].Sources) != 1 {
		t.Fatalf("expected 1 source, got %v", sections[0].Sources)
	}
	if sections[0].Parts[0].Text != "t" {
		t.Errorf("body should end at sources, got %v", sections[0].Parts)
	}
}

func TestParse_UntitledSection(t *testing.T) {
	sections := Parse(`<section><text>anonymous</text></section>`)

	if sections[0].Title != "" {
		t.Errorf("expected empty title, got '%s'", sections[0].Title)
	}
	if len(sections[0].Parts) != 1 {
		t.Errorf("expected body to parse, got %v", sections[0].Parts)
	}
}

func TestAttrValue(t *testing.T) {
	if v, ok := attrValue(` title="Deep Dive" rest`, "title"); !ok || v != "Deep Dive" {
		t.Errorf("expected 'Deep Dive', got '%s' (ok=%v)", v, ok)
	}
	if _, ok := attrValue(` title="unclosed`, "title"); ok {
		t.Error("expected unclosed attribute to report not ok")
	}
	if _, ok := attrValue(` other="x"`, "title"); ok {
		t.Error("expected missing attribute to report not ok")
	}
}
