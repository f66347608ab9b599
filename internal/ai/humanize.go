package ai

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Rand is the randomness the persona and humanize code draws from.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe to share between session workers.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand wraps r with a mutex.
func NewLockedRand(r *rand.Rand) Rand {
	return &lockedRand{r: r}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Typo replaces a whole word with its texting shorthand.
type Typo struct {
	From, To string
}

// Profile is a provider's reply flavor: sampling parameters and the
// probabilities of each humanizing transform.
type Profile struct {
	Style       string // persona prompt style line
	Denial      string // in-character answer to "are you a bot?"
	MaxTokens   int
	Temperature float64

	AFKChance        float64
	AFKLines         []string
	ShortReplyChance float64
	ShortReplies     []string

	WordCap int // replies longer than WordCap words are cut to CutTo words
	CutTo   int

	ErrorChance        float64 // gate for the three error transforms below
	TypoChance         float64
	Typos              []Typo
	PunctDropChance    float64
	DoubleLetterChance float64

	CorrectionChance float64
	FillerChance     float64
	CallbackChance   float64
}

var (
	afkLines = []string{
		"brb gotta do something",
		"hold on a sec",
		"wait my mom is calling me",
		"sorry gotta eat dinner real quick",
		"one sec need to help my sister",
	}
	fillers     = []string{"uhh", "like", "y'know", "sooo", "welp"}
	corrections = []string{
		"%s wait wha- nvm lol",
		"%s omg i just- never mind haha",
		"wait what was i saying- oh yeah %s",
		"%s oop sorry brain fart",
	}
	baseTypos = []Typo{
		{"you", "u"}, {"your", "ur"}, {"are", "r"}, {"to", "2"},
		{"for", "4"}, {"and", "&"}, {"because", "bc"}, {"with", "w/"},
	}
)

// OpenAIProfile is the flavor of the secondary provider: ultra-short
// replies with frequent texting errors.
func OpenAIProfile() Profile {
	return Profile{
		Style:              "TEXT EXACTLY LIKE A REAL TEENAGER - Keep messages ULTRA SHORT (1 line average, max 2 sentences), use casual slang, realistic typos, and emojis.",
		Denial:             "ofc im real bestie just a regular student here lol",
		MaxTokens:          30,
		Temperature:        0.9,
		AFKChance:          0.03,
		AFKLines:           afkLines,
		ShortReplyChance:   0.01,
		ShortReplies:       []string{"hmm", "lol", "yah", "bet"},
		WordCap:            8,
		CutTo:              6,
		ErrorChance:        0.15,
		TypoChance:         0.4,
		Typos:              append(append([]Typo(nil), baseTypos...), Typo{"what", "wat"}, Typo{"really", "rly"}, Typo{"probably", "prob"}, Typo{"actually", "actu"}),
		PunctDropChance:    0.3,
		DoubleLetterChance: 0.05,
		CorrectionChance:   0.05,
		FillerChance:       0.1,
		CallbackChance:     0.08,
	}
}

// GeminiProfile is the flavor of the primary provider: short replies with
// occasional errors.
func GeminiProfile() Profile {
	return Profile{
		Style:            "TEXT LIKE A REAL TEENAGER - Keep messages SHORT (1-3 sentences max), use casual slang, occasional typos, and emojis.",
		Denial:           "ofc im real lol just a student here",
		MaxTokens:        80,
		Temperature:      0.9,
		ShortReplyChance: 0.15,
		ShortReplies:     []string{"hmm", "same", "nahh", "fr?", "bet", "mood", "lol", "omg", "oop", "yah", "nah", "tbh", "ikr"},
		ErrorChance:      0.1,
		TypoChance:       0.3,
		Typos:            baseTypos,
		PunctDropChance:  0.2,
	}
}

// StripNamePrefix removes a leading "Name:" or "ChatBot:" speaker label.
func StripNamePrefix(text, name string) string {
	re := regexp.MustCompile(`^(?i:chatbot|` + regexp.QuoteMeta(name) + `):\s*`)
	return strings.TrimSpace(re.ReplaceAllString(strings.TrimSpace(text), ""))
}

// Shorten cuts text to cutTo words when it has more than wordCap words.
// A zero wordCap disables the cut.
func Shorten(text string, wordCap, cutTo int) string {
	words := strings.Fields(text)
	if wordCap <= 0 || len(words) <= wordCap || cutTo <= 0 {
		return text
	}
	return strings.Join(words[:cutTo], " ")
}

// ApplyTypo replaces every whole-word occurrence of t.From, ignoring case.
func ApplyTypo(text string, t Typo) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t.From) + `\b`)
	return re.ReplaceAllLiteralString(text, t.To)
}

var trailingPunct = regexp.MustCompile(`[.,!?]$`)

// DropTrailingPunct removes one trailing punctuation mark.
func DropTrailingPunct(text string) string {
	return trailingPunct.ReplaceAllString(text, "")
}

var firstWord = regexp.MustCompile(`\b(\w)(\w+)\b`)

// DoubleFirstLetter doubles the first letter of the first word of two or
// more letters ("hello" -> "hhello").
func DoubleFirstLetter(text string) string {
	loc := firstWord.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[2]] + text[loc[2]:loc[3]] + text[loc[2]:]
}

// AddFiller prefixes text with filler.
func AddFiller(text, filler string) string {
	return filler + " " + text
}

// AddCorrection wraps text in an incomplete-then-correct template.
func AddCorrection(text, template string) string {
	return fmt.Sprintf(template, text)
}

// Callback appends a question about a remembered detail. Unknown keys leave
// text unchanged.
func Callback(text, key, value string) string {
	switch key {
	case detailLocation:
		return text + fmt.Sprintf(" btw how's life in %s?", value)
	case detailMusic:
		return text + fmt.Sprintf(" still into %s?", value)
	case detailCourse:
		return text + fmt.Sprintf(" hows %s going?", value)
	}
	return text
}

// Humanize applies the profile's randomized transforms to a raw completion.
// details are the personal details remembered for the conversation.
func Humanize(text string, p Profile, details map[string]string, r Rand) string {
	text = Shorten(text, p.WordCap, p.CutTo)

	if r.Float64() < p.ErrorChance {
		if len(p.Typos) > 0 && r.Float64() < p.TypoChance {
			text = ApplyTypo(text, p.Typos[r.IntN(len(p.Typos))])
		}
		if r.Float64() < p.PunctDropChance {
			text = DropTrailingPunct(text)
		}
		if r.Float64() < p.DoubleLetterChance {
			text = DoubleFirstLetter(text)
		}
	}
	if r.Float64() < p.CorrectionChance {
		text = AddCorrection(text, corrections[r.IntN(len(corrections))])
	}
	if r.Float64() < p.FillerChance {
		text = AddFiller(text, fillers[r.IntN(len(fillers))])
	}
	if len(details) > 0 && r.Float64() < p.CallbackChance {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		k := keys[r.IntN(len(keys))]
		text = Callback(text, k, details[k])
	}
	return text
}

var disclosure = regexp.MustCompile(`(?i)\b(as an ai|i'?m an ai|i am an ai|an ai|ai assistant|language model|chat ?bot|i'?m a bot|i am a bot|artificial intelligence|openai|virtual assistant)\b`)

// Conceal replaces any reply that discloses a non-human origin with the
// profile's in-character denial.
func Conceal(text, denial string) string {
	if disclosure.MatchString(text) {
		return denial
	}
	return text
}
