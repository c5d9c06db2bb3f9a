package humanize

// InactivePhrase is sent when the resolved agent is switched off.
const InactivePhrase = "Not Available... Talk Later"

var (
	// FallbackPhrases answer when no model reply could be produced.
	FallbackPhrases = []string{
		"got it, give me a sec",
		"hold on",
		"one moment",
		"let me check that",
		"I will think about that",
		"just a sec",
	}

	// ErrorPhrases answer when the run failed after the event was accepted.
	ErrorPhrases = []string{
		"remind me later",
		"something's buggy",
		"give me a minute",
		"let me get back to you",
		"hold up",
		"busy right now",
	}

	MediaErrorPhrases = []string{
		"can't open that file now",
		"will look at that file later",
		"busy atm, try later",
		"can't check that right now",
		"swamped, will get to it",
		"send again later",
	}

	// GeneralErrorPhrases answer when the request budget ran out.
	GeneralErrorPhrases = []string{
		"busy right now",
		"can't respond properly atm",
		"swamped with stuff",
		"tied up at the moment",
		"running around, ttyl",
		"crazy busy rn",
		"in meetings all day",
		"overwhelmed today",
		"will get back to you",
		"caught up in something",
	}

	VideoPhrases = []string{
		"can't handle videos right now",
		"video files are too much for me atm",
		"skip videos for now",
		"not doing videos today",
		"videos are a no-go rn",
	}
)

var (
	casualStarters = []string{"btw", "oh", "hmm", "well", "actually", "honestly", "so", "basically"}
	casualEndings  = []string{"anyway", "but yeah", "you know", "if that makes sense", "hope that helps", "lmk if you need more"}
	truncTailers   = []string{"anyway", "but yeah", "you know"}

	quickPhrases = []string{"k", "got it", "yep", "sure", "ok", "right", "mm", "yeah", "uh huh", "mhm", "gotcha", "cool"}

	contextualPhrases = map[MessageType][]string{
		Greeting: {"hey there", "what's up", "hey", "hi", "hello", "how's it going"},
		Question: {"let me think about that", "good question", "hmm", "interesting", "let me see", "that's a tough one"},
		Thanks:   {"no problem", "sure thing", "anytime", "you bet", "of course", "glad to help"},
	}
)

// timeBand is one time-of-day remark layer. Hours are inclusive.
type timeBand struct {
	match   func(hour int) bool
	chance  float64
	phrases []string
	sep     string
}

var timeBands = []timeBand{
	{match: func(h int) bool { return h >= 23 || h <= 5 }, chance: 0.20, phrases: []string{"sorry for the late reply", "up late too?", "quick response"}, sep: " - "},
	{match: func(h int) bool { return h >= 6 && h <= 9 }, chance: 0.15, phrases: []string{"morning!", "early bird", "good morning"}, sep: " "},
	{match: func(h int) bool { return h >= 11 && h <= 14 }, chance: 0.10, phrases: []string{"quick break", "lunch time response", "between meetings"}, sep: " - "},
}

// Probabilities applies per layer. Zero values disable a layer.
type Probabilities struct {
	Contextual float64
	Quick      float64
	Truncate   float64
	Casualize  float64
	Starter    float64
	Ending     float64
	Typo       float64
}

// DefaultProbabilities reproduces the production tuning.
var DefaultProbabilities = Probabilities{
	Contextual: 0.05,
	Quick:      0.03,
	Truncate:   0.06,
	Casualize:  0.15,
	Starter:    0.15,
	Ending:     0.10,
	Typo:       0.05,
}

const (
	shortMessageLen  = 20
	truncateMinChars = 100
)
