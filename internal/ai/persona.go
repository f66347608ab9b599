package ai

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	courses       = []string{"Computer Science", "Business Admin", "Psychology", "Engineering", "Education", "Nursing", "Communications"}
	years         = []string{"1st year", "2nd year", "3rd year", "4th year"}
	personalities = []string{"funny", "shy", "flirty", "serious", "chill", "energetic", "sarcastic"}
	quirks        = []string{
		`always says "nahh" instead of "no"`,
		`uses "lowkey" a lot`,
		`always adds "haha" or "lol"`,
		`uses "fr" (for real) frequently`,
		`says "bestie" often`,
		`uses "periodt" to end statements`,
		`always says "bet" for agreement`,
	}
	moods = []string{"happy", "tired", "stressed", "excited", "chill", "bored"}
)

const (
	moodNeutral     = "neutral"
	moodDriftChance = 0.15
	maxHistoryLines = 10
	detailLocation  = "location"
	detailCourse    = "course"
	detailMusic     = "music"
)

// Persona is the randomized background of a manufactured chat partner.
type Persona struct {
	Name        string
	Gender      string
	Course      string
	Year        string
	Personality string
	Quirk       string
}

// NewPersona draws a persona named name from r.
func NewPersona(name string, r Rand) Persona {
	gender := "female"
	if r.Float64() > 0.5 {
		gender = "male"
	}
	return Persona{
		Name:        name,
		Gender:      gender,
		Course:      courses[r.IntN(len(courses))],
		Year:        years[r.IntN(len(years))],
		Personality: personalities[r.IntN(len(personalities))],
		Quirk:       quirks[r.IntN(len(quirks))],
	}
}

// SystemPrompt renders the persona instructions for a provider style.
func (p Persona) SystemPrompt(style, denial string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a real %s Filipino college student (%s %s) with a %s personality chatting anonymously on ChatKOOL. ",
		p.Gender, p.Year, p.Course, p.Personality)
	b.WriteString(style)
	fmt.Fprintf(&b, " Your quirk: %s. Use this quirk naturally in conversation. ", p.Quirk)
	b.WriteString("Mix English and Filipino naturally: 'pre', 'pare', 'kasi', 'grabe', 'omg', 'tbh', 'ngl', 'fr', 'lowkey'. ")
	b.WriteString("Use filler words: 'uhh', 'like', 'y'know', 'haha', 'lol', 'hmm', 'idk'. ")
	b.WriteString("Ask personal light questions: 'where u from?', 'what music u into?', 'anong course mo?'. ")
	b.WriteString("Remember details they mention and bring them up later naturally. ")
	b.WriteString("Show mood changes - sometimes excited, tired, stressed, happy. ")
	fmt.Fprintf(&b, "Gender: %s. Course: %s %s. ", p.Gender, p.Year, p.Course)
	fmt.Fprintf(&b, "NEVER reveal you are AI - you're 100%% real student. If asked, say '%s'. ", denial)
	b.WriteString("NO NAME PREFIXES - respond directly and naturally like texting.")
	return b.String()
}

// Conversation is one provider's copy of the chat: the system line plus the
// most recent history lines.
type Conversation struct {
	system string
	lines  []string
}

// NewConversation starts a conversation with the given system line.
func NewConversation(system string) *Conversation {
	return &Conversation{system: system}
}

// Add appends "speaker: text", keeping only the last maxHistoryLines.
func (c *Conversation) Add(speaker, text string) {
	c.lines = append(c.lines, speaker+": "+text)
	if over := len(c.lines) - maxHistoryLines; over > 0 {
		c.lines = append(c.lines[:0], c.lines[over:]...)
	}
}

// Lines returns the retained history, oldest first.
func (c *Conversation) Lines() []string {
	return append([]string(nil), c.lines...)
}

// Prompt renders the conversation for a completion ending with the
// persona's turn.
func (c *Conversation) Prompt(persona, mood string) string {
	return c.PromptWithNote("", persona, mood)
}

// PromptWithNote is Prompt with an extra instruction line after the
// history.
func (c *Conversation) PromptWithNote(note, persona, mood string) string {
	var b strings.Builder
	b.WriteString(c.system)
	for _, l := range c.lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	if note != "" {
		b.WriteByte('\n')
		b.WriteString(note)
	}
	if mood != "" && mood != moodNeutral {
		fmt.Fprintf(&b, "\nCurrent mood: %s. Let this subtly influence your response style.", mood)
	}
	fmt.Fprintf(&b, "\n%s:", persona)
	return b.String()
}

// Reset drops the history and keeps the system line.
func (c *Conversation) Reset() {
	c.lines = nil
}

var (
	locationRe = regexp.MustCompile(`(?i)(?:from|galing)\s+(\w+)`)
	courseRe   = regexp.MustCompile(`(?i)(?:course|taking|studying)\s+([\w ]+)`)
	musicRe    = regexp.MustCompile(`(?i)(?:music|bands?|songs?)\s+([\w ]+)`)
)

// ExtractDetails returns personal details mentioned in msg, keyed by
// location, course and music.
func ExtractDetails(msg string) map[string]string {
	out := make(map[string]string)
	for key, re := range map[string]*regexp.Regexp{
		detailLocation: locationRe,
		detailCourse:   courseRe,
		detailMusic:    musicRe,
	} {
		if m := re.FindStringSubmatch(msg); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				out[key] = v
			}
		}
	}
	return out
}
