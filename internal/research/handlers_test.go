package research

import "testing"

func TestExtractContent_Envelope(t *testing.T) {
	content := extractContent([]byte(`{"content":{"report":"text"}}`))
	if string(content) != `{"report":"text"}` {
		t.Errorf("expected unwrapped content, got %s", content)
	}
}

func TestExtractContent_BareDocument(t *testing.T) {
	content := extractContent([]byte(`{"report":"text"}`))
	if string(content) != `{"report":"text"}` {
		t.Errorf("expected bare document passed through, got %s", content)
	}
}

func TestExtractContent_InvalidJSON(t *testing.T) {
	if content := extractContent([]byte(`{"broken`)); content != nil {
		t.Errorf("expected nil for invalid JSON, got %s", content)
	}
	if content := extractContent([]byte(``)); content != nil {
		t.Errorf("expected nil for empty body, got %s", content)
	}
}

func TestExtractContent_ArrayDocument(t *testing.T) {
	content := extractContent([]byte(`[1,2,3]`))
	if string(content) != `[1,2,3]` {
		t.Errorf("expected array passed through, got %s", content)
	}
}
