package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MarkupParser incrementally extracts tool invocations written as XML-like
// markup inside model prose. Text arrives in arbitrary deltas via Feed;
// complete blocks for registered tags are drained with ExtractBlocks and
// turned into calls with ParseBlock.
//
// The buffer holds text whose blocks have not completed yet. Extraction is
// strictly left to right: an opening tag whose close has not streamed in
// blocks everything after it, so a block nested in a different tag's body is
// never lifted out on its own. Each extracted block is cut from the buffer
// exactly once.
//
// A parser serves a single response and is not safe for concurrent use.
type MarkupParser struct {
	registry *Registry
	buffer   string
}

// NewMarkupParser creates a parser recognizing the markup tags registered in
// reg at scan time.
func NewMarkupParser(reg *Registry) *MarkupParser {
	return &MarkupParser{registry: reg}
}

// Feed appends a content delta to the pending buffer.
func (p *MarkupParser) Feed(delta string) {
	p.buffer += delta
}

// Buffered returns the text not yet consumed as a block.
func (p *MarkupParser) Buffered() string {
	return p.buffer
}

// ExtractBlocks drains every complete markup block from the buffer, earliest
// first. An incomplete block stops extraction and stays buffered so it can
// finish on a later delta.
func (p *MarkupParser) ExtractBlocks() []string {
	var blocks []string
	for {
		start, end, ok := p.nextBlock()
		if !ok {
			return blocks
		}
		blocks = append(blocks, p.buffer[start:end])
		p.buffer = p.buffer[:start] + p.buffer[end:]
	}
}

// nextBlock locates the earliest complete block of any registered tag.
func (p *MarkupParser) nextBlock() (start, end int, ok bool) {
	first := -1
	firstTag := ""
	for _, tag := range p.registry.Tags() {
		if pos := findTagOpen(p.buffer, tag, 0); pos >= 0 && (first < 0 || pos < first) {
			first = pos
			firstTag = tag
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	end, ok = p.matchBlockEnd(first, firstTag)
	if !ok {
		return 0, 0, false
	}
	return first, end, true
}

// matchBlockEnd walks from the opening tag at start to the end of its block,
// counting same-named nested tags so an inner <tag> does not close the outer
// one. Returns false when the close has not streamed in yet.
func (p *MarkupParser) matchBlockEnd(start int, tag string) (int, bool) {
	s := p.buffer
	pos, selfClosing := openTagEnd(s, start)
	if pos < 0 {
		return 0, false
	}
	if selfClosing {
		return pos, true
	}
	closing := "</" + tag + ">"
	depth := 1
	for pos < len(s) {
		nextClose := strings.Index(s[pos:], closing)
		if nextClose < 0 {
			return 0, false
		}
		nextClose += pos
		if nextOpen := findTagOpen(s, tag, pos); nextOpen >= 0 && nextOpen < nextClose {
			inner, innerSelfClosing := openTagEnd(s, nextOpen)
			if inner < 0 {
				return 0, false
			}
			if !innerSelfClosing {
				depth++
			}
			pos = inner
			continue
		}
		depth--
		pos = nextClose + len(closing)
		if depth == 0 {
			return pos, true
		}
	}
	return 0, false
}

// ParseBlock parses one extracted block into a ToolCall using the markup
// schema registered for its tag. Markup-extracted argument values are always
// strings; a required parameter that cannot be extracted rejects the whole
// block.
func (p *MarkupParser) ParseBlock(block string) (*models.ToolCall, error) {
	tag := blockTag(block)
	if tag == "" {
		return nil, fmt.Errorf("markup block has no tag")
	}
	tool, ok := p.registry.ByTag(tag)
	if !ok {
		return nil, fmt.Errorf("no tool registered for markup tag %q", tag)
	}
	schema := tool.MarkupSchema()

	openEnd, selfClosing := openTagEnd(block, 0)
	if openEnd < 0 {
		return nil, fmt.Errorf("malformed opening tag for %q", tag)
	}
	openTag := block[:openEnd]
	body := ""
	if !selfClosing {
		closing := "</" + tag + ">"
		if !strings.HasSuffix(block, closing) {
			return nil, fmt.Errorf("markup block for %q is not closed", tag)
		}
		body = block[openEnd : len(block)-len(closing)]
	}

	args := make(map[string]any, len(schema.Mappings))
	for _, m := range schema.Mappings {
		var value string
		var found bool
		switch m.NodeType {
		case NodeAttribute:
			value, found = extractAttribute(openTag, m.ParamName)
		case NodeElement:
			name := m.Path
			if name == "" || name == "." {
				name = m.ParamName
			}
			value, found = extractElement(body, name)
		case NodeText, NodeContent:
			value, found = strings.TrimSpace(body), true
		default:
			return nil, fmt.Errorf("tag %q: unknown node type %q for parameter %q", tag, m.NodeType, m.ParamName)
		}
		if !found {
			if m.Required {
				return nil, fmt.Errorf("tag %q: missing required parameter %q", tag, m.ParamName)
			}
			continue
		}
		args[m.ParamName] = value
	}

	return &models.ToolCall{
		ID:           uuid.New().String(),
		FunctionName: tool.Name(),
		XMLTagName:   tag,
		Arguments:    args,
	}, nil
}

// findTagOpen returns the index of the first opening delimiter "<tag" at or
// after from whose next character marks a tag boundary. Returns -1 when none
// exists, including when a candidate sits at the end of the buffer and could
// still grow into a longer tag name on the next delta.
func findTagOpen(s, tag string, from int) int {
	needle := "<" + tag
	for {
		pos := strings.Index(s[from:], needle)
		if pos < 0 {
			return -1
		}
		pos += from
		boundary := pos + len(needle)
		if boundary >= len(s) {
			return -1
		}
		if isTagBoundary(s[boundary]) {
			return pos
		}
		from = pos + 1
	}
}

// openTagEnd scans the opening tag starting at start for its closing '>',
// skipping quoted attribute values that may themselves contain '>'. It
// returns the index just past the '>' and whether the tag is self-closing,
// or -1 when the opening tag is still incomplete.
func openTagEnd(s string, start int) (end int, selfClosing bool) {
	var quote byte
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i + 1, s[i-1] == '/'
		}
	}
	return -1, false
}

// blockTag reads the tag name off the front of a block.
func blockTag(block string) string {
	if len(block) < 2 || block[0] != '<' {
		return ""
	}
	end := 1
	for end < len(block) && !isTagBoundary(block[end]) {
		end++
	}
	if end == len(block) {
		return ""
	}
	return block[1:end]
}

func isTagBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}

// extractAttribute reads a named attribute off an opening tag. Double-quoted,
// single-quoted, and bare values are all accepted; entity references in the
// value are decoded.
func extractAttribute(openTag, name string) (string, bool) {
	re := regexp.MustCompile(`(?s)\b` + regexp.QuoteMeta(name) + `\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'<>/]+))`)
	m := re.FindStringSubmatch(openTag)
	if m == nil {
		return "", false
	}
	for _, group := range m[1:] {
		if group != "" {
			return decodeEntities(group), true
		}
	}
	return "", true
}

// extractElement returns the trimmed inner content of the first child element
// with the given name.
func extractElement(body, name string) (string, bool) {
	quoted := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`(?s)<` + quoted + `(?:\s[^>]*)?>(.*?)</` + quoted + `>`)
	m := re.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

var (
	entityEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	entityDecoder = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
)

// escapeEntities encodes the five XML entities for use in attribute values.
func escapeEntities(s string) string {
	return entityEscaper.Replace(s)
}

// decodeEntities reverses escapeEntities in a single pass, so "&amp;lt;"
// decodes to "&lt;" and stops.
func decodeEntities(s string) string {
	return entityDecoder.Replace(s)
}
