// Package humanize perturbs model replies so they read less uniformly. Every
// layer is cosmetic: it may add, shorten or substitute text, but never edits
// the facts inside a reply.
package humanize

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

type MessageType string

const (
	Greeting MessageType = "greeting"
	Question MessageType = "question"
	Thanks   MessageType = "thanks"
	Other    MessageType = "other"
)

var (
	greetingRe   = regexp.MustCompile(`^(hi|hey|hello|sup|what's up|good morning|good afternoon|good evening)`)
	questionRe   = regexp.MustCompile(`^(what|how|when|where|why|who|can you|could you|do you)`)
	thanksRe     = regexp.MustCompile(`(thank|thanks|thx|ty|appreciate)`)
	sentenceSpRe = regexp.MustCompile(`[.!?]+`)
)

// DetectMessageType classifies the inbound text for contextual replies.
func DetectMessageType(message string) MessageType {
	lower := strings.ToLower(message)
	switch {
	case greetingRe.MatchString(lower):
		return Greeting
	case strings.Contains(lower, "?") || questionRe.MatchString(lower):
		return Question
	case thanksRe.MatchString(lower):
		return Thanks
	default:
		return Other
	}
}

// Rand is the random source. Float64 returns [0, 1); IntN returns [0, n).
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// globalRand uses the package-level math/rand/v2 source, which is safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

type Option func(*Humanizer)

func WithRand(r Rand) Option {
	return func(h *Humanizer) { h.rnd = r }
}

func WithClock(now func() time.Time) Option {
	return func(h *Humanizer) { h.now = now }
}

func WithProbabilities(p Probabilities) Option {
	return func(h *Humanizer) { h.p = p }
}

// Humanizer is safe for concurrent use when its Rand is.
type Humanizer struct {
	rnd Rand
	now func() time.Time
	p   Probabilities
}

func New(opts ...Option) *Humanizer {
	h := &Humanizer{
		rnd: globalRand{},
		now: time.Now,
		p:   DefaultProbabilities,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Humanize applies the layers in order. A contextual or quick substitution
// replaces the reply and ends processing; otherwise truncation, casual
// framing and the time-of-day remark may stack.
func (h *Humanizer) Humanize(raw string, messageType MessageType, short bool) string {
	if phrases, ok := contextualPhrases[messageType]; ok && h.hit(h.p.Contextual) {
		return h.Pick(phrases)
	}
	if short && h.hit(h.p.Quick) {
		return h.Pick(quickPhrases)
	}

	out := raw
	if len(out) > truncateMinChars && h.hit(h.p.Truncate) {
		out = h.truncate(out)
	}
	if h.hit(h.p.Casualize) {
		out = h.casualize(out)
	}
	return h.timeOfDay(out)
}

// HumanizeFor derives the message type and short hint from the inbound text.
func (h *Humanizer) HumanizeFor(raw, inbound string) string {
	return h.Humanize(raw, DetectMessageType(inbound), IsShort(inbound))
}

// IsShort reports whether the inbound message qualifies for quick replies.
func IsShort(inbound string) bool {
	return len(inbound) < shortMessageLen
}

// Pick returns a random element of phrases, or "" for an empty list.
func (h *Humanizer) Pick(phrases []string) string {
	if len(phrases) == 0 {
		return ""
	}
	return phrases[h.rnd.IntN(len(phrases))]
}

func (h *Humanizer) hit(p float64) bool {
	return p > 0 && h.rnd.Float64() < p
}

// truncate keeps the first sentence and adds a casual tailer. A single
// sentence reply is returned unchanged.
func (h *Humanizer) truncate(s string) string {
	var sentences []string
	for _, part := range sentenceSpRe.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			sentences = append(sentences, part)
		}
	}
	if len(sentences) < 2 {
		return s
	}
	return strings.TrimSpace(sentences[0]) + "... " + h.Pick(truncTailers)
}

func (h *Humanizer) casualize(s string) string {
	if h.hit(h.p.Starter) {
		s = h.Pick(casualStarters) + ", " + strings.ToLower(s)
	}
	if h.hit(h.p.Ending) {
		s = s + " - " + h.Pick(casualEndings)
	}
	if h.hit(h.p.Typo) {
		if fields := strings.Fields(s); len(fields) > 0 {
			s = s + " *" + fields[len(fields)-1]
		}
	}
	return s
}

func (h *Humanizer) timeOfDay(s string) string {
	hour := h.now().Hour()
	for _, band := range timeBands {
		if !band.match(hour) {
			continue
		}
		if h.hit(band.chance) {
			return h.Pick(band.phrases) + band.sep + s
		}
		return s
	}
	return s
}
