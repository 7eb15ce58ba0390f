// Package content prepares extracted document text for speech synthesis.
//
// Preparation is a pure transformation: bracketed reference markers are dropped,
// quotes and dashes are normalised, common abbreviations are expanded so they do
// not read as sentence ends, whitespace is collapsed, pause-inducing spacing is
// inserted after sentence and clause punctuation, and the result is truncated to
// the synthesis character budget. Text that normalizes to nothing is rejected.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/podcast-service/internal/core"
)

// Character budgets.
const (
	// DialogueMaxChars is the cap applied to text sent to the dialogue service.
	DialogueMaxChars = 5000
	// FallbackMaxChars is the cap applied to text sent to the single-voice fallback.
	FallbackMaxChars = 4000
)

// Default speakers and voices.
const (
	NarratorName    = "Narrator"
	HostName        = "Host"
	NarratorVoiceID = "21m00Tcm4TlvDq8ikWAM"
	HostVoiceID     = "29vD33N1CtxCmqQRPOHJ"
)

const (
	referenceRegexPattern  = `\[\d+(?:[,\-–]\s*\d+)*\]`
	whitespaceRegexPattern = `\s+`
	danglingRegexPattern   = `\s+([.,!?;:])`
	pauseRegexPattern      = `([.,])(\p{L})`
	pauseReplacement       = "$1 $2"
	ellipsis               = "..."
	emDash                 = "—"
	enDash                 = "–"
	ellipsisChar           = "…"
)

const (
	errTextEmpty         = "text cannot be empty"
	errFmtSpeakerNoVoice = "speaker %q has no voice id"
	errFmtSpeakerNoName  = "speaker %d has no name"
)

// Line is one utterance of the dialogue, spoken by a single speaker.
type Line struct {
	Speaker core.Speaker
	Text    string
}

// Options carries the caller's optional overrides.
type Options struct {
	Speakers      []core.Speaker
	VoiceSettings *core.VoiceSettings
}

// Prepared is the sanitized dialogue request payload.
type Prepared struct {
	Text          string
	Truncated     bool
	Speakers      []core.Speaker
	VoiceSettings core.VoiceSettings
	Lines         []Line
}

// Preparer turns raw extracted text into a dialogue request payload.
type Preparer struct {
	maxChars             int
	referencePattern     *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	danglingPattern      *regexp.Regexp
	pausePattern         *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewPreparer creates a preparer with compiled patterns. A non-positive maxChars
// selects DialogueMaxChars.
func NewPreparer(maxChars int) *Preparer {
	if maxChars <= 0 {
		maxChars = DialogueMaxChars
	}

	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Fig.", "Figure",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
	}

	return &Preparer{
		maxChars:             maxChars,
		referencePattern:     regexp.MustCompile(referenceRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		danglingPattern:      regexp.MustCompile(danglingRegexPattern),
		pausePattern:         regexp.MustCompile(pauseRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		punctuationReplacer: strings.NewReplacer(
			emDash, ", ",
			enDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// DefaultSpeakers returns the two-speaker configuration used when the caller supplies none.
func DefaultSpeakers() []core.Speaker {
	return []core.Speaker{
		{Name: NarratorName, VoiceID: NarratorVoiceID},
		{Name: HostName, VoiceID: HostVoiceID},
	}
}

// DefaultVoiceSettings returns the voice-settings tuple used when the caller supplies none.
func DefaultVoiceSettings() core.VoiceSettings {
	return core.VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		UseSpeakerBoost: true,
	}
}

// Resolve returns the speakers and voice settings in effect, substituting the
// defaults for anything the caller left out.
func (o Options) Resolve() ([]core.Speaker, core.VoiceSettings) {
	speakers := o.Speakers
	if len(speakers) == 0 {
		speakers = DefaultSpeakers()
	}

	settings := DefaultVoiceSettings()
	if o.VoiceSettings != nil {
		settings = *o.VoiceSettings
	}

	return speakers, settings
}

// Prepare sanitizes raw text and assigns the speaker and voice configuration.
func (p *Preparer) Prepare(raw string, opts Options) (*Prepared, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrValidation, errTextEmpty)
	}

	speakers, settings := opts.Resolve()

	speakerErr := validateSpeakers(speakers)
	if speakerErr != nil {
		return nil, speakerErr
	}

	normalized := p.Normalize(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: %s", core.ErrValidation, errTextEmpty)
	}

	text, truncated := Truncate(normalized, p.maxChars)

	return &Prepared{
		Text:          text,
		Truncated:     truncated,
		Speakers:      speakers,
		VoiceSettings: settings,
		Lines:         assignLines(SplitSentences(text), speakers),
	}, nil
}

// Normalize applies every text transformation except truncation.
func (p *Preparer) Normalize(text string) string {
	text = p.referencePattern.ReplaceAllString(text, "")
	text = p.punctuationReplacer.Replace(text)
	text = p.abbreviationReplacer.Replace(text)
	text = p.whitespacePattern.ReplaceAllString(text, " ")
	text = p.danglingPattern.ReplaceAllString(text, "$1")
	text = p.pausePattern.ReplaceAllString(text, pauseReplacement)

	return strings.TrimSpace(text)
}

// Truncate caps text at limit characters, ending truncated text with an ellipsis.
// The returned text never exceeds limit characters.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}

	keep := limit - len(ellipsis)
	if keep <= 0 {
		return ellipsis[:limit], true
	}

	runes := []rune(text)
	head := strings.TrimRightFunc(string(runes[:keep]), unicode.IsSpace)

	return head + ellipsis, true
}

// SplitSentences splits text at sentence-ending punctuation followed by whitespace.
func SplitSentences(text string) []string {
	runes := []rune(text)

	var sentences []string

	start := 0

	for index, char := range runes {
		if !isSentenceEnd(char) {
			continue
		}

		if index+1 < len(runes) && !unicode.IsSpace(runes[index+1]) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[start : index+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		start = index + 1
	}

	tail := strings.TrimSpace(string(runes[start:]))
	if tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}

// WordCount returns the number of whitespace separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func isSentenceEnd(char rune) bool {
	switch char {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

func assignLines(sentences []string, speakers []core.Speaker) []Line {
	lines := make([]Line, 0, len(sentences))

	for index, sentence := range sentences {
		lines = append(lines, Line{
			Speaker: speakers[index%len(speakers)],
			Text:    sentence,
		})
	}

	return lines
}

func validateSpeakers(speakers []core.Speaker) error {
	for index, speaker := range speakers {
		if strings.TrimSpace(speaker.Name) == "" {
			return fmt.Errorf("%w: "+errFmtSpeakerNoName, core.ErrValidation, index)
		}

		if strings.TrimSpace(speaker.VoiceID) == "" {
			return fmt.Errorf("%w: "+errFmtSpeakerNoVoice, core.ErrValidation, speaker.Name)
		}
	}

	return nil
}
