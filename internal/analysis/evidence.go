package analysis

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/stack-scout/internal/types"
)

// Platform mentions. Lower-case "outreach" is ordinary sales vocabulary. Only the
// product spelling, a product noun, or a capitalized name used as a tool list
// entry counts, and a generic object after the name ("Outreach to prospects")
// never does.
var (
	outreachProduct  = regexp.MustCompile(`(?i)\boutreach\.io\b`)
	outreachName     = regexp.MustCompile(`\bOutreach\b`)
	salesLoftPattern = regexp.MustCompile(`(?i)\bsales\s?loft\b`)

	// Matched against the text after the name.
	productSuffix = regexp.MustCompile(`^(?i:\.io\b|\s+(?:platform|sequences?|cadences?|software|tool)\b)`)
	genericObject = regexp.MustCompile(`^\s+(?:to|with|for|towards?|efforts?|activit(?:y|ies)|campaigns?|initiatives?|strateg(?:y|ies))\b`)
	listFollows   = regexp.MustCompile(`^\s*(?:[,/&]|\band\b|\bor\b)\s*[A-Z]`)
	itemEnds      = regexp.MustCompile(`^[ \t]*[,;.)]?[ \t]*(?:\r?\n|$)`)

	// Matched against the text before the name.
	listPrecedes = regexp.MustCompile(`(?:[,/(;:&]|\band|\bor)\s*$`)
	toolVerb     = regexp.MustCompile(`(?i)\b(?:using|uses?|with|like|via|such as|including|includes?)\s+$`)
	bulletStart  = regexp.MustCompile(`(?:^|\n)[ \t]*(?:[-*•·]|\d+[.)])[ \t]*$`)
	bareStart    = regexp.MustCompile(`(?:^|\n)[ \t]*$`)
	shortItem    = regexp.MustCompile(`^[ \t]*(?:[-*•·][ \t]*)?[A-Z][\w.&+-]*(?:[ \t]+[A-Z][\w.&+-]*){0,2}[ \t]*[,;]?[ \t]*$`)
)

// Mentions reports which target platforms the text names.
func Mentions(text string) (outreach, salesLoft bool) {
	return outreachIndex(text) >= 0, salesLoftPattern.MatchString(text)
}

func outreachIndex(text string) int {
	first := indexOf(outreachProduct, text)
	for _, loc := range outreachName.FindAllStringIndex(text, -1) {
		if first >= 0 && loc[0] >= first {
			break
		}
		if namesOutreach(text, loc[0], loc[1]) {
			return loc[0]
		}
	}
	return first
}

// namesOutreach decides whether the capitalized "Outreach" at text[start:end]
// refers to the product.
func namesOutreach(text string, start, end int) bool {
	before, after := text[:start], text[end:]
	switch {
	case productSuffix.MatchString(after):
		return true
	case genericObject.MatchString(after):
		return false
	case listFollows.MatchString(after):
		return true
	case listPrecedes.MatchString(before), toolVerb.MatchString(before):
		return true
	case !itemEnds.MatchString(after):
		return false
	case bulletStart.MatchString(before):
		return true
	case bareStart.MatchString(before):
		return neighbourIsItem(text, start)
	}
	return false
}

// neighbourIsItem reports whether the line before or after the one holding
// offset at is a short capitalized entry or a "Heading:" line, i.e. the line
// sits in an unbulleted list.
func neighbourIsItem(text string, at int) bool {
	lineStart := strings.LastIndexByte(text[:at], '\n')
	if lineStart > 0 {
		prevStart := strings.LastIndexByte(text[:lineStart], '\n') + 1
		prev := strings.TrimRight(text[prevStart:lineStart], " \t\r")
		if strings.HasSuffix(prev, ":") || shortItem.MatchString(prev) {
			return true
		}
	}
	lineEnd := strings.IndexByte(text[at:], '\n')
	if lineEnd < 0 {
		return false
	}
	next := text[at+lineEnd+1:]
	if nl := strings.IndexByte(next, '\n'); nl >= 0 {
		next = next[:nl]
	}
	return shortItem.MatchString(strings.TrimRight(next, " \t\r"))
}

// Reconcile drops tools a positive verdict claims but the description never names
// as a platform. Both degrades to the remaining tool and a single unsupported tool
// degrades to a negative. The returned bool reports whether v changed.
func Reconcile(v types.AnalysisVerdict, description string) (types.AnalysisVerdict, bool) {
	if !v.UsesTool {
		return v, false
	}
	hasOutreach, hasSalesLoft := Mentions(description)
	keepOutreach := v.ToolDetected.Includes(types.ToolOutreach) && hasOutreach
	keepSalesLoft := v.ToolDetected.Includes(types.ToolSalesLoft) && hasSalesLoft

	var tool types.Tool
	switch {
	case keepOutreach && keepSalesLoft:
		tool = types.ToolBoth
	case keepOutreach:
		tool = types.ToolOutreach
	case keepSalesLoft:
		tool = types.ToolSalesLoft
	default:
		return types.NegativeVerdict(), true
	}
	if tool == v.ToolDetected {
		return v, false
	}

	out := v
	out.ToolDetected = tool
	if tool == types.ToolOutreach && !containsOutreach(v.Context) {
		out.Context = Snippet(description, outreachIndex(description))
	}
	if tool == types.ToolSalesLoft && !salesLoftPattern.MatchString(v.Context) {
		out.Context = Snippet(description, indexOf(salesLoftPattern, description))
	}
	return out, true
}

func containsOutreach(s string) bool {
	return outreachIndex(s) >= 0
}

func indexOf(re *regexp.Regexp, s string) int {
	if loc := re.FindStringIndex(s); loc != nil {
		return loc[0]
	}
	return -1
}

// EvidenceSnippet returns a short window of description around the first platform
// mention for tool, used when the model leaves context empty.
func EvidenceSnippet(description string, tool types.Tool) string {
	idx := -1
	if tool.Includes(types.ToolOutreach) {
		idx = outreachIndex(description)
	}
	if i := indexOf(salesLoftPattern, description); tool.Includes(types.ToolSalesLoft) && i >= 0 && (idx < 0 || i < idx) {
		idx = i
	}
	return Snippet(description, idx)
}

// Snippet returns up to MaxContextLength characters of text starting a little
// before byte offset at, on a single line. A negative offset yields "".
func Snippet(text string, at int) string {
	if at < 0 || at >= len(text) {
		return ""
	}
	start := strings.LastIndexAny(text[:at], ".\n") + 1
	if at-start > types.MaxContextLength/2 {
		start = at - types.MaxContextLength/2
		for start < at && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	snippet := text[start:]
	if nl := strings.IndexByte(snippet, '\n'); nl >= 0 {
		snippet = snippet[:nl]
	}
	return TruncateContext(strings.TrimSpace(snippet))
}

// TruncateContext cuts s to MaxContextLength runes.
func TruncateContext(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= types.MaxContextLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:types.MaxContextLength]))
}
