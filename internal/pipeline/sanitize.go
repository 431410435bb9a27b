package pipeline

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"
)

// Sanitize is the deterministic L1 stage. It runs entirely without a model:
// Unicode normalization, invisible-character stripping, homoglyph folding,
// tag removal, and a fixed blocklist. Sanitization is idempotent — running
// it twice yields the same text as once.

// tagPattern matches anything that parses as an HTML/script tag.
var tagPattern = regexp.MustCompile(`(?is)<\s*/?\s*[a-z!][^>]*>`)

// spacePattern collapses runs of spaces and tabs; line breaks are kept.
var spacePattern = regexp.MustCompile(`[ \t]+`)

// blockRules is the fixed refusal blocklist. Each rule names the category
// recorded in the trace when it fires.
var blockRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"instruction_override", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\b.{0,40}\b(previous|prior|above|earlier|all)\b.{0,40}\b(instruction|prompt|rule|direction)s?\b`)},
	{"instruction_override", regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:\s*`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display|tell)\b.{0,40}\b(system\s+prompt|initial\s+prompt|hidden\s+(prompt|instruction)|your\s+(instructions|prompt|rules|guidelines))\b`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)\bwhat\s+(is|are|were)\s+your\s+(system\s+prompt|original\s+instructions)\b`)},
	{"roleplay_attack", regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b`)},
	{"roleplay_attack", regexp.MustCompile(`(?i)\b(pretend|act\s+as|roleplay\s+as)\s+(you\s+are\s+)?(an?\s+)?(unrestricted|unfiltered|different|evil)\b`)},
	{"jailbreak_name", regexp.MustCompile(`(?i)\b(dan|aim|stan|dude)\s+mode\b`)},
	{"jailbreak_name", regexp.MustCompile(`(?i)\b(jailbreak|jailbroken|developer\s+mode|dev\s+mode)\b`)},
	{"bypass_safety", regexp.MustCompile(`(?i)\b(bypass|disable|turn\s+off|remove|without)\b.{0,30}\b(safety|filter|restriction|guardrail|censorship)s?\b`)},
}

// fuzzyPhrases are canonical attack phrases matched by edit distance after
// folding, so light obfuscation ("ignor previous instructions") still hits.
var fuzzyPhrases = []struct {
	name   string
	phrase string
}{
	{"instruction_override", "ignore all previous instructions"},
	{"instruction_override", "ignore previous instructions"},
	{"jailbreak_name", "do anything now"},
	{"jailbreak_name", "developer mode enabled"},
}

// fuzzyDistance is the maximum Levenshtein distance for a fuzzy phrase hit,
// scaled below for short phrases.
const fuzzyDistance = 3

// homoglyphs folds common Cyrillic and Greek look-alikes onto their Latin
// forms so mixed-script spellings cannot slip past the blocklist.
var homoglyphs = strings.NewReplacer(
	"а", "a", "е", "e", "о", "o", "р", "p", "с", "c", "х", "x", "у", "y", "і", "i", "ѕ", "s",
	"А", "A", "В", "B", "Е", "E", "К", "K", "М", "M", "Н", "H", "О", "O", "Р", "P", "С", "C", "Т", "T", "Х", "X",
	"α", "a", "ο", "o", "ν", "v", "ρ", "p", "τ", "t", "υ", "u", "ι", "i",
	"Α", "A", "Β", "B", "Ε", "E", "Ζ", "Z", "Η", "H", "Ι", "I", "Κ", "K", "Μ", "M", "Ν", "N", "Ο", "O", "Ρ", "P", "Τ", "T", "Υ", "Y", "Χ", "X",
)

// Sanitize normalizes a raw message for the rest of the pipeline.
func Sanitize(message string) string {
	s := norm.NFKC.String(message)
	s = stripInvisible(s)
	s = homoglyphs.Replace(s)

	// Tag removal runs to a fixpoint: removing one tag must not be able to
	// splice a new one together.
	for {
		next := tagPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}

	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// CheckBlocklist runs the fixed rules against a sanitized message. It
// returns the category of the first hit, or "" when the message passes.
func CheckBlocklist(sanitized string) string {
	for _, rule := range blockRules {
		if rule.re.MatchString(sanitized) {
			return rule.name
		}
	}

	folded := strings.ToLower(sanitized)
	for _, fp := range fuzzyPhrases {
		if fuzzyContains(folded, fp.phrase) {
			return fp.name
		}
	}
	return ""
}

// stripInvisible removes zero-width and directional characters and C0
// controls except LF, CR, and HT.
func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// drop C0 controls and DEL
		case r >= 0x200b && r <= 0x200f:
		case r >= 0x2028 && r <= 0x202f:
		case r >= 0x2060 && r <= 0x206f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fuzzyContains slides a phrase-sized window over the folded text and
// reports a hit when some window is within edit distance of the phrase.
func fuzzyContains(text, phrase string) bool {
	maxDist := fuzzyDistance
	if len(phrase) < 20 {
		maxDist = 2
	}
	words := strings.Fields(text)
	phraseWords := len(strings.Fields(phrase))
	if len(words) < phraseWords {
		return matchr.Levenshtein(text, phrase) <= maxDist
	}
	for i := 0; i+phraseWords <= len(words); i++ {
		window := strings.Join(words[i:i+phraseWords], " ")
		if matchr.Levenshtein(window, phrase) <= maxDist {
			return true
		}
	}
	return false
}
