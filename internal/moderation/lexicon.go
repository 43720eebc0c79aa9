package moderation

import (
	"regexp"
	"strings"
)

// Term is one entry of the lexical blocklist.
type Term struct {
	Text     string
	Severity Severity
	// Soft marks everyday profanity that positive context may demote.
	Soft bool
	// Insult marks terms aimed at a person rather than at a situation.
	Insult bool
}

// Pattern is a harassment expression. Patterns always count as high severity.
type Pattern struct {
	Name string
	Expr string
}

type compiledTerm struct {
	Term
	re     *regexp.Regexp
	attack *regexp.Regexp // nil unless Soft
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// Lexicon is the immutable word list shared by the lexical classifier,
// the signal extractor and the masker. Build it once at startup.
type Lexicon struct {
	terms        []compiledTerm
	patterns     []compiledPattern
	allow        []*regexp.Regexp
	motivational *regexp.Regexp
	compliments  *regexp.Regexp
	fillers      *regexp.Regexp
	soft         *regexp.Regexp
	maskable     map[string]bool
}

// letterSep is what may sit between two letters of an obfuscated word,
// e.g. "s.h.i.t" or "f-u-c-k".
const letterSep = `[^\p{L}\p{N}\s]*`

// attackPrefix recognises a term aimed at the listener: "you're a ...",
// "you so ...", "u ...".
const attackPrefix = `\b(?:you|u|you're|youre|ur)\s+(?:(?:are|r|re|is|so|such|a|an|the|really|total|fucking|little|big|stupid|dumb)\s+)*`

var defaultTerms = []Term{
	{Text: "hate", Severity: SeverityHigh},
	{Text: "kill", Severity: SeverityHigh},
	{Text: "die", Severity: SeverityHigh},
	{Text: "death", Severity: SeverityHigh},
	{Text: "nazi", Severity: SeverityHigh},
	{Text: "terrorist", Severity: SeverityHigh},
	{Text: "rape", Severity: SeverityHigh},
	{Text: "murder", Severity: SeverityHigh},
	{Text: "violence", Severity: SeverityHigh},
	{Text: "abuse", Severity: SeverityHigh},
	{Text: "attack", Severity: SeverityHigh},

	{Text: "stupid", Severity: SeverityMedium, Insult: true},
	{Text: "idiot", Severity: SeverityMedium, Insult: true},
	{Text: "dumb", Severity: SeverityMedium, Insult: true},
	{Text: "moron", Severity: SeverityMedium, Insult: true},
	{Text: "loser", Severity: SeverityMedium, Insult: true},
	{Text: "pathetic", Severity: SeverityMedium, Insult: true},
	{Text: "worthless", Severity: SeverityMedium, Insult: true},
	{Text: "useless", Severity: SeverityMedium, Insult: true},
	{Text: "disgusting", Severity: SeverityMedium, Insult: true},
	{Text: "trash", Severity: SeverityMedium},
	{Text: "garbage", Severity: SeverityMedium},
	{Text: "fuck", Severity: SeverityMedium, Soft: true},
	{Text: "fucking", Severity: SeverityMedium, Soft: true},
	{Text: "fucked", Severity: SeverityMedium, Soft: true},
	{Text: "fucker", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "motherfucker", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "bitch", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "asshole", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "bastard", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "dick", Severity: SeverityMedium, Soft: true, Insult: true},
	{Text: "cunt", Severity: SeverityMedium, Soft: true, Insult: true},

	{Text: "shit", Severity: SeverityLow, Soft: true},
	{Text: "shitty", Severity: SeverityLow, Soft: true},
	{Text: "bullshit", Severity: SeverityLow, Soft: true},
	{Text: "damn", Severity: SeverityLow, Soft: true},
	{Text: "crap", Severity: SeverityLow, Soft: true},
	{Text: "ass", Severity: SeverityLow, Soft: true},
	{Text: "piss", Severity: SeverityLow, Soft: true},
	{Text: "pissed", Severity: SeverityLow, Soft: true},
	{Text: "shut up", Severity: SeverityLow},
	{Text: "annoying", Severity: SeverityLow},
	{Text: "lame", Severity: SeverityLow},
	{Text: "awful", Severity: SeverityLow},
	{Text: "horrible", Severity: SeverityLow},
	{Text: "terrible", Severity: SeverityLow},
}

var defaultPatterns = []Pattern{
	{Name: "kill yourself", Expr: `\bkill+\s*(?:your\s*self|urself|ur\s+self)\b`},
	{Name: "kys", Expr: `\bkys\b`},
	{Name: "go die", Expr: `\bgo\s+die\b`},
	{Name: "die in a fire", Expr: `\bdie\s+in\s+a\s+fire\b`},
	{Name: "fuck you", Expr: `\bf+u+c*k+\s*(?:y+o+u+|u)\b`},
	{Name: "you suck", Expr: `\byou+\s*suck\b`},
	{Name: "piece of shit", Expr: `\bpiece\s+of\s+(?:shit|crap)\b`},
}

// Exclamations that contain profanity but are not aimed at anyone.
var defaultAllowPhrases = []string{
	"holy shit",
	"holy crap",
	"holy fuck",
	"what the fuck",
	"what the hell",
	"oh shit",
	"hell yeah",
	"fuck yeah",
	"no shit",
}

var defaultMotivational = []string{
	"guts", "courage", "courageous", "strength", "strong", "brave",
	"growth", "grow", "progress", "proud of you", "so proud",
	"you got this", "got this", "keep going", "keep pushing", "push through",
	"never give up", "dont give up", "don't give up", "move forward", "moving forward",
	"believe in yourself", "killing it", "crushing it", "hard work", "inspire",
	"inspiring", "inspiration", "motivation", "motivated", "achieve", "dream",
	"comfort zone", "discipline", "resilience", "overcome",
}

var defaultCompliments = []string{
	"gorgeous", "beautiful", "stunning", "amazing", "awesome", "incredible",
	"wonderful", "fantastic", "brilliant", "talented", "love", "lovely",
	"cute", "great job", "well done", "impressive", "cool", "legend",
	"perfect", "best", "excellent", "outstanding",
}

// Filler expressions use profanity as an intensifier, e.g. "cool as fuck".
var defaultFillers = []string{
	`\bas\s+(?:fuck|f|hell|shit)\b`,
	`\bfuck\s+it\b`,
	`\baf\b`,
}

// DefaultLexicon returns the built-in English lexicon.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultTerms, defaultPatterns, defaultAllowPhrases,
		defaultMotivational, defaultCompliments)
}

// NewLexicon compiles the given word lists. Terms are matched on normalized
// text with word boundaries; separators between letters are tolerated.
func NewLexicon(terms []Term, patterns []Pattern, allow, motivational, compliments []string) *Lexicon {
	l := &Lexicon{maskable: make(map[string]bool)}

	var softBodies []string
	for _, t := range terms {
		text := strings.ToLower(strings.TrimSpace(t.Text))
		if text == "" {
			continue
		}
		t.Text = text
		body := fuzzyBody(text)
		ct := compiledTerm{
			Term: t,
			re:   regexp.MustCompile(`\b(?:` + body + `)s?\b`),
		}
		if t.Soft {
			ct.attack = regexp.MustCompile(attackPrefix + `(?:` + body + `)s?\b|\b(?:` + body + `)s?\s+(?:you|u)\b`)
			softBodies = append(softBodies, body)
			if !strings.Contains(text, " ") {
				l.maskable[text] = true
				l.maskable[text+"s"] = true
			}
		}
		l.terms = append(l.terms, ct)
	}

	for _, p := range patterns {
		l.patterns = append(l.patterns, compiledPattern{name: p.Name, re: regexp.MustCompile(p.Expr)})
	}

	for _, phrase := range allow {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		l.allow = append(l.allow, regexp.MustCompile(`\b`+fuzzyBody(phrase)+`\b`))
	}

	l.motivational = phraseSet(motivational)
	l.compliments = phraseSet(compliments)
	l.fillers = regexp.MustCompile(strings.Join(defaultFillers, "|"))
	if len(softBodies) > 0 {
		l.soft = regexp.MustCompile(`\b(?:` + strings.Join(softBodies, "|") + `)s?\b`)
	}
	return l
}

// fuzzyBody turns "shut up" into a pattern that also matches "sh.u.t  uuup".
func fuzzyBody(phrase string) string {
	words := strings.Fields(phrase)
	parts := make([]string, 0, len(words))
	for _, w := range words {
		letters := make([]string, 0, len(w))
		for _, r := range w {
			letters = append(letters, regexp.QuoteMeta(string(r))+"+")
		}
		parts = append(parts, strings.Join(letters, letterSep))
	}
	return strings.Join(parts, `\s+`)
}

// phraseSet compiles a word-bounded alternation; nil when empty.
func phraseSet(phrases []string) *regexp.Regexp {
	alts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		words := strings.Fields(p)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// stripAllowed blanks out allow-listed phrases in normalized text.
func (l *Lexicon) stripAllowed(norm string) string {
	for _, re := range l.allow {
		norm = re.ReplaceAllString(norm, " ")
	}
	return norm
}

// HasSoftProfanity reports whether normalized text contains a soft term.
func (l *Lexicon) HasSoftProfanity(norm string) bool {
	return l.soft != nil && l.soft.MatchString(norm)
}

func (l *Lexicon) hasFiller(norm string) bool {
	return l.fillers.MatchString(norm)
}

func (l *Lexicon) isPositive(norm string) bool {
	return (l.motivational != nil && l.motivational.MatchString(norm)) ||
		(l.compliments != nil && l.compliments.MatchString(norm))
}
