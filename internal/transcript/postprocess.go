// Package transcript implements the post-processing filter stages and
// near-duplicate suppression applied to ASR output before it reaches a
// session's dialogue history.
package transcript

import (
	"regexp"
	"strings"
)

// allowedShortWords are acknowledgements short enough to otherwise fail the
// minimum-length filters but that still carry meaning on their own.
var allowedShortWords = map[string]bool{
	"yes": true, "no": true, "right": true, "ok": true, "okay": true,
	"sure": true, "yeah": true, "nope": true, "correct": true,
	"is": true, "not": true, "have": true, "none": true,
}

var (
	onlyPunctuationRe = regexp.MustCompile(`^[.!?,;:\s]+$`)
	repeatedWordRe     = regexp.MustCompile(`\b\w{1,12}(\s+\w{1,12}\b){2,}`)
	repeatedPunctRe    = regexp.MustCompile(`\.{2,}|!{2,}|\?{2,}`)
	spaceBeforePunctRe = regexp.MustCompile(`\s+([.!?,;:])`)
	multiSpaceRe       = regexp.MustCompile(` +`)
)

// commonRepeats are filler phrases that stutter in casual speech ("like
// like", "so so") and collapse to a single occurrence.
var commonRepeats = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(like)(\s+like\b)+`),
	regexp.MustCompile(`(?i)\b(so)(\s+so\b)+`),
	regexp.MustCompile(`(?i)\b(and)(\s+and\b)+`),
	regexp.MustCompile(`(?i)\b(then)(\s+then\b)+`),
}

var obviousFillers = []string{"um", "uh", "erm", "uhh", "umm"}

// Options configures which post-processor stages run, mirroring
// [config.TextConfig].
type Options struct {
	MinSentenceLen              int
	EnableOralCleanup           bool
	EnableNumberNormalization   bool
	EnablePunctuationCorrection bool
}

// Processor applies the staged filter-and-cleanup pipeline to raw ASR
// output. It holds no per-session state and is safe for concurrent use.
type Processor struct {
	opts Options
}

// New returns a [Processor] configured with opts.
func New(opts Options) *Processor {
	if opts.MinSentenceLen <= 0 {
		opts.MinSentenceLen = 2
	}
	return &Processor{opts: opts}
}

// Process runs the full stage sequence: pre-filter, oral cleanup, punctuation
// correction, post-filter. hasTrailingSilence indicates the segment closed on
// an end-silence timeout rather than a forced max-segment cut, which affects
// whether a missing terminal punctuation mark is synthesized. Returns the
// empty string when the text does not survive filtering.
func (p *Processor) Process(text string, hasTrailingSilence bool) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = p.prefilterInvalid(text)
	if text == "" {
		return ""
	}

	if p.opts.EnableOralCleanup {
		text = p.CleanOralSpeech(text)
	}

	if p.opts.EnablePunctuationCorrection {
		text = p.correctPunctuation(text, hasTrailingSilence)
	}

	return p.postfilterInvalid(text)
}

// CleanOralSpeech runs only the oral-cleanup stage (repeat collapsing,
// number normalization, filler removal), used for lightweight partial-result
// cleanup where sentence-boundary correction would be premature.
func (p *Processor) CleanOralSpeech(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	text = p.removeRepeats(text)
	if p.opts.EnableNumberNormalization {
		text = normalizeNumbers(text)
	}
	return p.cleanFillers(text)
}

func (p *Processor) prefilterInvalid(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if onlyPunctuationRe.MatchString(text) {
		return ""
	}
	if len([]rune(text)) < p.opts.MinSentenceLen && !allowedShortWords[strings.ToLower(text)] {
		return ""
	}
	return text
}

func (p *Processor) postfilterInvalid(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len([]rune(text)) < p.opts.MinSentenceLen && !allowedShortWords[strings.ToLower(text)] {
		return ""
	}
	if onlyPunctuationRe.MatchString(text) {
		return ""
	}
	return text
}

func (p *Processor) removeRepeats(text string) string {
	// Collapse a word said three or more times in a row (case-insensitive)
	// to its first occurrence.
	text = repeatedWordRe.ReplaceAllStringFunc(text, func(run string) string {
		w := strings.Fields(run)
		out := []string{w[0]}
		for i := 1; i < len(w); i++ {
			inRunOfThree := i >= 2 && strings.EqualFold(w[i-1], w[i-2]) ||
				i+1 < len(w) && strings.EqualFold(w[i+1], w[i])
			if !strings.EqualFold(w[i], w[i-1]) || !inRunOfThree {
				out = append(out, w[i])
			}
		}
		if len(out) == len(w) {
			return run
		}
		return strings.Join(out, " ")
	})
	for _, re := range commonRepeats {
		text = re.ReplaceAllString(text, "$1")
	}
	return text
}

// numberCorrections fixes common ASR mis-transcriptions of spoken small
// numbers followed by a measure word ("1 time" -> "one time").
var numberCorrections = []struct {
	re   *regexp.Regexp
	word string
}{
	{regexp.MustCompile(`\b1\s*(times?|things?|points?)\b`), "one $1"},
	{regexp.MustCompile(`\b2\s*(times?|things?|points?)\b`), "two $1"},
	{regexp.MustCompile(`\b3\s*(times?|things?|points?)\b`), "three $1"},
}

func normalizeNumbers(text string) string {
	for _, c := range numberCorrections {
		text = c.re.ReplaceAllString(text, c.word)
	}
	return text
}

func (p *Processor) cleanFillers(text string) string {
	for _, filler := range obviousFillers {
		escaped := regexp.QuoteMeta(filler)
		text = regexp.MustCompile(`(?i)^`+escaped+`\b[\s,.!?]*`).ReplaceAllString(text, "")
		text = regexp.MustCompile(`(?i)[\s,.!?]+\b`+escaped+`\b[\s,.!?]*`).ReplaceAllString(text, " ")
		if strings.EqualFold(strings.TrimSpace(text), filler) {
			text = ""
		}
	}
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

var endingPunct = []string{".", "!", "?"}

func (p *Processor) correctPunctuation(text string, hasTrailingSilence bool) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	hasEndingPunct := false
	for _, mark := range endingPunct {
		if strings.HasSuffix(text, mark) {
			hasEndingPunct = true
			break
		}
	}

	if hasTrailingSilence && !hasEndingPunct && len([]rune(text)) >= p.opts.MinSentenceLen {
		text = strings.TrimRight(text, ", ")
		if !strings.HasSuffix(text, ".") {
			text += "."
		}
	}

	text = repeatedPunctRe.ReplaceAllStringFunc(text, func(m string) string { return m[:1] })
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")
	return text
}
