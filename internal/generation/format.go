package generation

import (
	"regexp"
	"strings"
)

// labelRules are the section labels emphasized in answers. Longer labels
// come before labels they end with so "Key Benefits:" is not emphasized
// as "Key **Benefits:**".
var labelRules = []string{
	"Application Process Overview:",
	"Application Process:",
	"Ministry/Department:",
	"Required Documents:",
	"Scheme Name:",
	"Key Benefits:",
	"Website Link:",
	"Eligibility:",
	"Benefits:",
	"Purpose:",
	"Source:",
}

var (
	labelPattern = compileLabels(labelRules)
	linkPattern  = regexp.MustCompile(`(\*\*Website Link:\*\*[ \t]*)(https?://[^\s\[\]<>]+)`)
	stepPattern  = regexp.MustCompile(`^\d+\.\s+`)
)

func compileLabels(labels []string) *regexp.Regexp {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	return regexp.MustCompile(`(\*\*)?(` + strings.Join(quoted, "|") + `)(\*\*)?`)
}

// FormatAnswer is a heuristic markdown touch-up of raw backend output, not
// a markdown parser. It is pure and idempotent.
func FormatAnswer(raw string) string {
	out := EmphasizeLabels(raw)
	out = LinkWebsites(out)
	out = tidyApplicationProcess(out)
	return out
}

// EmphasizeLabels bolds every known section label in a single pass,
// leaving labels that are already bold untouched.
func EmphasizeLabels(s string) string {
	matches := labelPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4*len(matches))
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		openBold, closeBold := m[2] >= 0, m[6] >= 0
		if openBold && closeBold {
			b.WriteString(s[m[0]:m[1]])
		} else {
			b.WriteString("**")
			b.WriteString(s[m[4]:m[5]])
			b.WriteString("**")
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// LinkWebsites turns a URL directly following a bold "Website Link:" label
// into a markdown link. URLs elsewhere in the text are left alone.
func LinkWebsites(s string) string {
	return linkPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		label, url := parts[1], parts[2]

		trimmed := trimURL(url)
		trailing := url[len(trimmed):]

		return label + "[" + trimmed + "](" + trimmed + ")" + trailing
	})
}

// trimURL drops trailing punctuation and any closing parenthesis without a
// matching opener, so "(see https://x.gov.in/a_(b))." keeps a_(b).
func trimURL(url string) string {
	for {
		trimmed := strings.TrimRight(url, ".,;:!?")
		if strings.HasSuffix(trimmed, ")") && strings.Count(trimmed, "(") < strings.Count(trimmed, ")") {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if trimmed == url {
			return url
		}
		url = trimmed
	}
}

// tidyApplicationProcess strips indentation from numbered steps and bullets
// inside an Application Process section. The first blank line after the
// section has content is taken as its end.
func tidyApplicationProcess(s string) string {
	if !strings.Contains(s, "**Application Process") {
		return s
	}

	lines := strings.Split(s, "\n")
	inSection := false
	sawContent := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "**Application Process"):
			inSection = true
			sawContent = false
		case !inSection:
		case trimmed == "":
			if sawContent {
				inSection = false
			}
		case stepPattern.MatchString(trimmed) || strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			lines[i] = trimmed
			sawContent = true
		default:
			sawContent = true
		}
	}
	return strings.Join(lines, "\n")
}
