// Package report parses the tag-delimited report format streamed by research
// workers. The buffer grows chunk by chunk on the receiving side, so the
// parser is a pure function of the full buffer and must yield whatever
// content is available even when tags are still unclosed.
//
// The format is a flat mini-language, not XML: attribute values are taken
// verbatim between the quote characters with no escaping, and malformed
// fragments degrade to partial output instead of errors.
package report

import "strings"

// PartType discriminates the typed content parts of a section.
type PartType string

const (
	PartText  PartType = "text"
	PartCode  PartType = "code"
	PartImage PartType = "image"
)

// ContentPart is one typed unit of section content.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text holds the content for text and code parts.
	Text string `json:"text,omitempty"`

	// URL and Caption are set for image parts.
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Source is one cited link of a section.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Section is a titled block of report content.
type Section struct {
	Title   string        `json:"title"`
	Parts   []ContentPart `json:"parts"`
	Sources []Source      `json:"sources"`
}

// Parse converts the current report buffer into ordered sections. Calling it
// repeatedly on a monotonically growing buffer is the expected usage; it
// keeps no state between calls.
func Parse(buffer string) []Section {
	if strings.TrimSpace(buffer) == "" {
		return nil
	}

	chunks := strings.Split(buffer, "<section")

	// No section tag anywhere: treat the whole buffer as a single untitled
	// section with one text run. Covers models that answer in plain prose.
	if len(chunks) == 1 {
		return []Section{{
			Title:   "",
			Parts:   []ContentPart{{Type: PartText, Text: strings.TrimSpace(buffer)}},
			Sources: []Source{},
		}}
	}

	sections := make([]Section, 0, len(chunks)-1)
	for _, chunk := range chunks[1:] {
		sections = append(sections, parseSection(chunk))
	}

	return sections
}

// parseSection parses one chunk starting right after a "<section" opener.
// The chunk may be truncated at any byte.
func parseSection(chunk string) Section {
	section := Section{
		Parts:   []ContentPart{},
		Sources: []Source{},
	}
	section.Title, _ = attrValue(chunk, "title")

	// Body starts after the opening tag closes. If the tag itself is still
	// streaming there is no body yet.
	body := ""
	if gt := strings.Index(chunk, ">"); gt != -1 {
		body = chunk[gt+1:]
	}

	// The body ends where sources or the section close begin, whichever
	// comes first; an unterminated body runs to the end of the buffer.
	bodyEnd := len(body)
	sourcesStart := strings.Index(body, "<sources>")
	if sourcesStart != -1 && sourcesStart < bodyEnd {
		bodyEnd = sourcesStart
	}
	if sectionEnd := strings.Index(body, "</section>"); sectionEnd != -1 && sectionEnd < bodyEnd {
		bodyEnd = sectionEnd
	}

	section.Parts = parseBody(body[:bodyEnd])

	if sourcesStart != -1 {
		sourcesBlock := body[sourcesStart+len("<sources>"):]
		if end := strings.Index(sourcesBlock, "</sources>"); end != -1 {
			sourcesBlock = sourcesBlock[:end]
		} else {
			sourcesBlock = strings.TrimSuffix(sourcesBlock, "</section>")
		}
		section.Sources = parseSources(sourcesBlock)
	}

	return section
}

// parseBody scans a section body for an ordered mix of <text>, <code> and
// self-closing <image .../> elements. Content between recognized tags is
// ignored.
func parseBody(body string) []ContentPart {
	parts := []ContentPart{}

	pos := 0
	for pos < len(body) {
		rest := body[pos:]

		textIdx := strings.Index(rest, "<text>")
		codeIdx := strings.Index(rest, "<code>")
		imageIdx := strings.Index(rest, "<image")

		next, kind := -1, PartText
		if textIdx != -1 {
			next, kind = textIdx, PartText
		}
		if codeIdx != -1 && (next == -1 || codeIdx < next) {
			next, kind = codeIdx, PartCode
		}
		if imageIdx != -1 && (next == -1 || imageIdx < next) {
			next, kind = imageIdx, PartImage
		}
		if next == -1 {
			break
		}

		switch kind {
		case PartText:
			content := rest[next+len("<text>"):]
			advance := len(rest)
			if end := strings.Index(content, "</text>"); end != -1 {
				advance = next + len("<text>") + end + len("</text>")
				content = content[:end]
			}
			parts = append(parts, splitTextRun(content)...)
			pos += advance

		case PartCode:
			content := rest[next+len("<code>"):]
			advance := len(rest)
			if end := strings.Index(content, "</code>"); end != -1 {
				advance = next + len("<code>") + end + len("</code>")
				content = content[:end]
			}
			parts = appendPart(parts, ContentPart{Type: PartCode, Text: content})
			pos += advance

		case PartImage:
			tag := rest[next:]
			end := strings.Index(tag, "/>")
			if end == -1 {
				// Tag still streaming; nothing to yield yet.
				pos += len(rest)
				continue
			}
			tag = tag[:end]
			if src, ok := attrValue(tag, "src"); ok && src != "" {
				caption, _ := attrValue(tag, "alt")
				parts = append(parts, ContentPart{Type: PartImage, URL: src, Caption: caption})
			}
			pos += next + end + len("/>")
		}
	}

	return parts
}

// splitTextRun converts one <text> run into parts, splitting out <code>
// blocks embedded in the prose and reinserting the surrounding text.
func splitTextRun(content string) []ContentPart {
	parts := []ContentPart{}

	for {
		codeStart := strings.Index(content, "<code>")
		if codeStart == -1 {
			parts = appendPart(parts, ContentPart{Type: PartText, Text: strings.TrimSpace(content)})
			return parts
		}

		parts = appendPart(parts, ContentPart{Type: PartText, Text: strings.TrimSpace(content[:codeStart])})

		code := content[codeStart+len("<code>"):]
		if end := strings.Index(code, "</code>"); end != -1 {
			parts = appendPart(parts, ContentPart{Type: PartCode, Text: code[:end]})
			content = code[end+len("</code>"):]
			continue
		}

		// Unterminated code block: yield what has streamed so far.
		parts = appendPart(parts, ContentPart{Type: PartCode, Text: code})
		return parts
	}
}

// appendPart drops parts whose content is empty after trimming.
func appendPart(parts []ContentPart, part ContentPart) []ContentPart {
	if strings.TrimSpace(part.Text) == "" {
		return parts
	}
	return append(parts, part)
}

// parseSources extracts <link url="U" title="T" /> entries in document
// order. Malformed or truncated fragments are skipped silently.
func parseSources(block string) []Source {
	sources := []Source{}

	for {
		start := strings.Index(block, "<link")
		if start == -1 {
			return sources
		}
		rest := block[start:]

		end := strings.Index(rest, "/>")
		if end == -1 {
			// Truncated link tag; wait for more of the buffer.
			return sources
		}

		tag := rest[:end]
		url, urlOK := attrValue(tag, "url")
		title, titleOK := attrValue(tag, "title")
		if urlOK && titleOK && url != "" {
			sources = append(sources, Source{URL: url, Title: title})
		}

		block = rest[end+len("/>"):]
	}
}

// attrValue returns the raw string between the quotes of name="...". No
// unescaping is performed: quote characters inside attribute values are not
// representable in this format.
func attrValue(s, name string) (string, bool) {
	marker := name + `="`
	start := strings.Index(s, marker)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}
