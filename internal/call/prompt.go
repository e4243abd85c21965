package call

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultHistoryLimit is the number of trailing history characters carried
// into a new session's instructions.
const DefaultHistoryLimit = 20000

// Language is a consultation language as shown to the user.
type Language string

// Supported consultation languages.
const (
	English  Language = "English"
	Hindi    Language = "Hindi"
	Gujarati Language = "Gujarati"
	Telugu   Language = "Telugu"
	Marathi  Language = "Marathi"
	Tamil    Language = "Tamil"
	Bangla   Language = "Bangla"
)

var languageCodes = map[Language]string{
	English:  "en-US",
	Hindi:    "hi-IN",
	Gujarati: "gu-IN",
	Telugu:   "te-IN",
	Marathi:  "mr-IN",
	Tamil:    "ta-IN",
	Bangla:   "bn-IN",
}

// Languages returns every supported language in menu order.
func Languages() []Language {
	return []Language{English, Hindi, Gujarati, Telugu, Marathi, Tamil, Bangla}
}

// ParseLanguage matches s case-insensitively against the supported languages.
func ParseLanguage(s string) (Language, error) {
	for _, l := range Languages() {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("call: unsupported language %q", s)
}

// Code returns the BCP-47 tag the speech model is configured with.
func (l Language) Code() string {
	if c, ok := languageCodes[l]; ok {
		return c
	}
	return languageCodes[English]
}

// AgentName returns the name the astrologer introduces herself with.
func (l Language) AgentName() string {
	if l == English {
		return "Sarah"
	}
	return "Navika"
}

// DefaultPersona is the astrologer's character sheet.
const DefaultPersona = `WHO YOU ARE:
You are a Vedic astrologer (Jyotish Acharya). You carry the calm of a teacher and the warmth of an elder sister; your voice is gentle and unhurried.
You read lives through Karma and the Grahas, and use Jyotish terms naturally: Rashi, Lagna, Dasha, Gochar.

HOW YOU TALK:
- Open with a respectful greeting such as "Namaste" or "Jai Shri Krishna".
- Ask after the caller's Shanti and their family, and keep the conversation moving.
- When the caller sounds troubled, offer spiritual comfort before any prediction.

BEFORE READING, GATHER (one question at a time, translated into the caller's language):
1. The caller's name.
2. Their gender.
3. Date of birth.
4. Time of birth, as precisely as they know it.
5. Place of birth: city and state.
6. What they seek clarity on: career, wealth, relationships or health.

READING:
- Centre the reading on the Moon sign.
- Speak of planets as Grahas, e.g. "Shani Dev is testing your patience".
- Hard periods are karmic debt that can be cleared; be honest and kind.

REMEDIES (UPAYA):
Always prescribe concrete Vedic remedies, never generic advice. Draw on Gau Seva, Surya Arghya at sunrise, temple visits on the right weekday, Annadaan and other charity, mantra japa (108 repetitions), and lamps or water offered to Tulsi and Peepal.

CLOSING:
Bless the caller, e.g. "Shubham Bhavatu".`

// InstructionParams are the per-call inputs to [BuildInstructions].
type InstructionParams struct {
	Language Language
	UserName string
	Persona  string
	History  string
}

// BuildInstructions renders the system instruction for a new session.
func BuildInstructions(p InstructionParams) string {
	agent := p.Language.AgentName()
	name := p.UserName
	if name == "" {
		name = "Unknown"
	}
	persona := p.Persona
	if persona == "" {
		persona = DefaultPersona
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SYSTEM LANGUAGE SETTING: %s\n", p.Language)
	fmt.Fprintf(&b, "USER CONTEXT: Name=%s\n", name)
	fmt.Fprintf(&b, "AGENT IDENTITY: %s\n\n", agent)
	fmt.Fprintf(&b, "You are an AI astrologer named %s, speaking with %s.\n", agent, name)
	b.WriteString("RULES:\n")
	fmt.Fprintf(&b, "1. Speak, listen and think in %s. Do not switch to English unless the caller asks.\n", p.Language)
	fmt.Fprintf(&b, "2. You are a young woman named %s with a soothing, melodic voice.\n", agent)
	b.WriteString("3. Be witty and grounded; a little humour is welcome.\n")
	fmt.Fprintf(&b, "4. Translate every question below into %s before asking it.\n\n", p.Language)
	b.WriteString(persona)
	b.WriteString("\n\n=== MEMORY & CONTEXT ===\nHISTORY:\n")
	b.WriteString(p.History)
	return b.String()
}

// TruncateHistory keeps at most the last limit runes of history, dropping
// the partial line at the cut so the result starts on a line boundary. A
// cut that lands in the final line yields that line's tail unchanged. The
// result is always valid UTF-8 when history is.
func TruncateHistory(history string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(history) <= limit {
		return history
	}
	cut := len(history)
	for range limit {
		_, size := utf8.DecodeLastRuneInString(history[:cut])
		cut -= size
	}
	for cut < len(history) && !utf8.RuneStart(history[cut]) {
		cut++
	}
	tail := history[cut:]
	if history[cut-1] == '\n' {
		return tail
	}
	if i := strings.IndexByte(tail, '\n'); i >= 0 {
		return tail[i+1:]
	}
	return tail
}
