package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kathoros-ai/proxenos/internal/core"
	"github.com/kathoros-ai/proxenos/internal/router"
)

// Detection strategies, in priority order.
const (
	ViaEnvelope   = "json_envelope"
	ViaJSONStruct = "json_struct"
	ViaTag        = "xml_tag"
	ViaFenced     = "markdown_block"
	ViaNone       = "none"
)

// MaxInputBytes caps how much agent output the parser will scan.
const MaxInputBytes = 512 << 10

// Locates a "tool" key candidate; the surrounding object is then extracted
// with a balanced-brace walk rather than regex.
var reJSONToolKey = regexp.MustCompile(`"tool"\s*:\s*"([^"]+)"`)

// Fenced block: ```toolname\ncontent```
var reFenced = regexp.MustCompile("(?s)```([a-zA-Z0-9_-]+)\n(.*?)```")

// Common code-fence language tags that must not be treated as tool names.
var codeLangBlocklist = map[string]struct{}{
	"python": {}, "py": {}, "javascript": {}, "js": {}, "typescript": {}, "ts": {},
	"java": {}, "c": {}, "cpp": {}, "csharp": {}, "cs": {}, "go": {}, "rust": {},
	"ruby": {}, "php": {}, "swift": {}, "kotlin": {}, "scala": {}, "r": {},
	"sql": {}, "bash": {}, "sh": {}, "zsh": {}, "shell": {}, "powershell": {},
	"html": {}, "css": {}, "xml": {}, "yaml": {}, "yml": {}, "toml": {},
	"json": {}, "markdown": {}, "md": {}, "text": {}, "txt": {}, "plaintext": {},
	"latex": {}, "tex": {}, "lua": {}, "perl": {}, "haskell": {}, "elixir": {},
	"erlang": {}, "clojure": {}, "lisp": {}, "scheme": {}, "ocaml": {},
	"fsharp": {}, "dart": {}, "zig": {}, "nim": {}, "julia": {}, "matlab": {},
	"sage": {}, "diff": {}, "dockerfile": {}, "makefile": {}, "cmake": {},
	"ini": {}, "cfg": {}, "conf": {}, "csv": {}, "log": {},
}

// Identity is the session-registered identity stamped onto every detected
// request. Nothing an agent writes can override these fields.
type Identity struct {
	AgentID    string
	AgentName  string
	TrustLevel core.TrustLevel
	AccessMode core.AccessMode
	Nonce      string
	RunID      string
}

// ParseResult is returned by every Parse call, match or not. DisplayText is
// the agent output with the detected block stripped, ready for display.
type ParseResult struct {
	Request     *router.ToolRequest
	DisplayText string
	DetectedVia string
	RawBlock    string
}

// Parser detects tool requests in agent output. Stateless; one instance is
// safe to reuse across calls and sessions.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse scans one chunk of agent output in strategy priority order: canonical
// envelope, structured JSON, tool tag, fenced block. It never fails: unmatched
// or oversized output passes through with a nil Request.
func (p *Parser) Parse(raw string, id Identity) ParseResult {
	if strings.TrimSpace(raw) == "" {
		return ParseResult{DisplayText: raw, DetectedVia: ViaNone}
	}
	if len(raw) > MaxInputBytes {
		return ParseResult{DisplayText: raw, DetectedVia: ViaNone}
	}

	if res, ok := p.tryEnvelope(raw, id); ok {
		return res
	}
	if res, ok := p.tryJSONStruct(raw, id); ok {
		return res
	}
	if res, ok := p.tryTag(raw, id); ok {
		return res
	}
	if res, ok := p.tryFenced(raw, id); ok {
		return res
	}

	return ParseResult{DisplayText: raw, DetectedVia: ViaNone}
}

func (p *Parser) tryEnvelope(raw string, id Identity) (ParseResult, bool) {
	env := ParseEnvelope(raw)
	rawBlock := strings.TrimSpace(raw)
	if env == nil {
		env, rawBlock = extractEmbeddedEnvelope(raw)
		if env == nil {
			return ParseResult{}, false
		}
	}

	runID := env.RunID
	if runID == "" {
		runID = id.RunID
	}

	req := &router.ToolRequest{
		RequestID:   uuid.NewString(),
		AgentID:     id.AgentID,   // session identity, never envelope claims
		AgentName:   id.AgentName, // session identity, never envelope claims
		TrustLevel:  id.TrustLevel,
		AccessMode:  id.AccessMode,
		Tool:        env.Tool,
		Args:        env.Args,
		Nonce:       env.Nonce, // router validates this
		RunID:       runID,
		Enveloped:   true,
		DetectedVia: ViaEnvelope,
	}
	return ParseResult{
		Request:     req,
		DisplayText: stripBlock(raw, rawBlock),
		DetectedVia: ViaEnvelope,
		RawBlock:    rawBlock,
	}, true
}

func (p *Parser) tryJSONStruct(raw string, id Identity) (ParseResult, bool) {
	loc := reJSONToolKey.FindStringIndex(raw)
	if loc == nil {
		return ParseResult{}, false
	}

	braceStart := strings.LastIndex(raw[:loc[0]], "{")
	if braceStart == -1 {
		return ParseResult{}, false
	}

	rawBlock, ok := extractBalancedJSON(raw, braceStart)
	if !ok {
		return ParseResult{}, false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(rawBlock), &parsed); err != nil {
		return ParseResult{}, false
	}
	tool, ok := parsed["tool"].(string)
	if !ok {
		return ParseResult{}, false
	}
	args, ok := parsed["args"].(map[string]any)
	if !ok {
		return ParseResult{}, false
	}

	nonce := id.Nonce
	if claimed, ok := parsed["nonce"].(string); ok {
		nonce = claimed
	}

	req := &router.ToolRequest{
		RequestID:   uuid.NewString(),
		AgentID:     id.AgentID,
		AgentName:   id.AgentName,
		TrustLevel:  id.TrustLevel,
		AccessMode:  id.AccessMode,
		Tool:        tool,
		Args:        args,
		Nonce:       nonce,
		RunID:       id.RunID,
		Enveloped:   false,
		DetectedVia: ViaJSONStruct,
	}
	return ParseResult{
		Request:     req,
		DisplayText: stripBlock(raw, rawBlock),
		DetectedVia: ViaJSONStruct,
		RawBlock:    rawBlock,
	}, true
}

func (p *Parser) tryTag(raw string, id Identity) (ParseResult, bool) {
	tool, content, rawBlock, ok := findToolTag(raw)
	if !ok {
		return ParseResult{}, false
	}

	req := &router.ToolRequest{
		RequestID:   uuid.NewString(),
		AgentID:     id.AgentID,
		AgentName:   id.AgentName,
		TrustLevel:  id.TrustLevel,
		AccessMode:  id.AccessMode,
		Tool:        tool,
		Args:        parseArgsContent(content),
		Nonce:       id.Nonce,
		RunID:       id.RunID,
		Enveloped:   false,
		DetectedVia: ViaTag,
	}
	return ParseResult{
		Request:     req,
		DisplayText: stripBlock(raw, rawBlock),
		DetectedVia: ViaTag,
		RawBlock:    rawBlock,
	}, true
}

func (p *Parser) tryFenced(raw string, id Identity) (ParseResult, bool) {
	m := reFenced.FindStringSubmatch(raw)
	if m == nil {
		return ParseResult{}, false
	}

	tool := m[1]
	if _, blocked := codeLangBlocklist[strings.ToLower(tool)]; blocked {
		return ParseResult{}, false
	}

	req := &router.ToolRequest{
		RequestID:   uuid.NewString(),
		AgentID:     id.AgentID,
		AgentName:   id.AgentName,
		TrustLevel:  id.TrustLevel,
		AccessMode:  id.AccessMode,
		Tool:        tool,
		Args:        parseArgsContent(strings.TrimSpace(m[2])),
		Nonce:       id.Nonce,
		RunID:       id.RunID,
		Enveloped:   false,
		DetectedVia: ViaFenced,
	}
	return ParseResult{
		Request:     req,
		DisplayText: stripBlock(raw, m[0]),
		DetectedVia: ViaFenced,
		RawBlock:    m[0],
	}, true
}

// findToolTag scans for <tool:name>content</tool:name>. A hand scan because
// the closing tag must repeat the opening name exactly.
func findToolTag(raw string) (tool, content, rawBlock string, ok bool) {
	const open = "<tool:"
	offset := 0
	for {
		idx := strings.Index(raw[offset:], open)
		if idx == -1 {
			return "", "", "", false
		}
		idx += offset
		nameStart := idx + len(open)
		nameEnd := nameStart
		for nameEnd < len(raw) && isToolNameChar(raw[nameEnd]) {
			nameEnd++
		}
		if nameEnd == nameStart || nameEnd >= len(raw) || raw[nameEnd] != '>' {
			offset = idx + len(open)
			continue
		}
		name := raw[nameStart:nameEnd]
		closing := "</tool:" + name + ">"
		closeIdx := strings.Index(raw[nameEnd+1:], closing)
		if closeIdx == -1 {
			offset = idx + len(open)
			continue
		}
		contentStart := nameEnd + 1
		contentEnd := contentStart + closeIdx
		return name, strings.TrimSpace(raw[contentStart:contentEnd]),
			raw[idx : contentEnd+len(closing)], true
	}
}

func isToolNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

// extractBalancedJSON walks forward from an opening brace, tracking nesting
// and quoted strings, and returns the complete object substring.
func extractBalancedJSON(text string, start int) (string, bool) {
	if start >= len(text) || text[start] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			if inString {
				escape = true
			}
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{' || ch == '[':
			depth++
		case ch == '}' || ch == ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// extractEmbeddedEnvelope scans text for an envelope object embedded in a
// larger response. If the braces never balance because the agent truncated
// its output, it retries once with the missing closers appended.
func extractEmbeddedEnvelope(text string) (*Envelope, string) {
	key := `"` + EnvelopeKey + `"`
	keyIdx := strings.Index(text, key)
	if keyIdx == -1 {
		return nil, ""
	}

	braceStart := strings.LastIndex(text[:keyIdx], "{")
	if braceStart == -1 {
		return nil, ""
	}

	depth := 0
	inString := false
	escape := false
	lastBrace := -1
	for i := braceStart; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			if inString {
				escape = true
			}
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			lastBrace = i
			if depth == 0 {
				rawBlock := text[braceStart : i+1]
				if env := ParseEnvelope(rawBlock); env != nil {
					return env, rawBlock
				}
				return nil, ""
			}
		}
	}

	if depth > 0 && lastBrace > braceStart {
		repaired := text[braceStart:lastBrace+1] + strings.Repeat("}", depth)
		if env := ParseEnvelope(repaired); env != nil {
			return env, text[braceStart : lastBrace+1]
		}
	}
	return nil, ""
}

// parseArgsContent decodes tag or fence content as a JSON object when
// possible, otherwise wraps the raw text as {"input": content}.
func parseArgsContent(content string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed != nil {
		return parsed
	}
	return map[string]any{"input": content}
}

func stripBlock(raw, block string) string {
	return strings.TrimSpace(strings.Replace(raw, block, "", 1))
}
