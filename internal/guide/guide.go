// Package guide implements the structured coding guide: a conversational
// state machine that walks a user through a fixed list of challenges, each
// with ordered steps. Free-text replies are classified by keyword intent.
package guide

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Intent is the classified meaning of a user message.
type Intent string

const (
	IntentCompletion Intent = "completion"
	IntentHelp       Intent = "help"
	IntentSkip       Intent = "skip"
	IntentStatus     Intent = "status"
	IntentUnknown    Intent = "unknown"
)

// intentKeywords maps each intent to its trigger phrases. Matching is
// case-insensitive and word-boundary aware, so "done" does not fire on
// "abandoned".
var intentKeywords = map[Intent][]string{
	IntentCompletion: {"finished", "done", "implemented", "it works", "completed", "got it working"},
	IntentHelp:       {"stuck", "help", "error", "how do i", "how to", "confused", "not working"},
	IntentSkip:       {"skip", "next", "move on", "pass"},
	IntentStatus:     {"where", "progress", "status", "which step"},
}

// intentOrder fixes the precedence when a message matches several intents.
// Completion wins over status so "done, where next?" advances.
var intentOrder = []Intent{IntentCompletion, IntentSkip, IntentHelp, IntentStatus}

var intentPatterns = compileIntentPatterns()

func compileIntentPatterns() map[Intent][]*regexp.Regexp {
	patterns := make(map[Intent][]*regexp.Regexp, len(intentKeywords))
	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			// Phrases become literal sequences with flexible whitespace.
			escaped := regexp.QuoteMeta(kw)
			escaped = strings.ReplaceAll(escaped, ` `, `\s+`)
			re := regexp.MustCompile(`(?i)\b` + escaped + `\b`)
			patterns[intent] = append(patterns[intent], re)
		}
	}
	return patterns
}

// ClassifyIntent returns the first matching intent in precedence order.
func ClassifyIntent(message string) Intent {
	for _, intent := range intentOrder {
		for _, re := range intentPatterns[intent] {
			if re.MatchString(message) {
				return intent
			}
		}
	}
	return IntentUnknown
}

// Step is one unit of work inside a challenge.
type Step struct {
	Title       string   `json:"title"`
	Instruction string   `json:"instruction"`
	Hints       []string `json:"hints"`
}

// Challenge is a themed group of steps.
type Challenge struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Session tracks one user's position in the guide.
type Session struct {
	UserID         uint      `json:"user_id"`
	ChallengeIndex int       `json:"challenge_index"`
	StepIndex      int       `json:"step_index"`
	HelpCount      int       `json:"help_count"` // consecutive help requests on the current step
	Completed      bool      `json:"completed"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reply is the guide's answer to a user message.
type Reply struct {
	Intent    Intent   `json:"intent"`
	Message   string   `json:"message"`
	Challenge string   `json:"challenge,omitempty"`
	Step      string   `json:"step,omitempty"`
	Progress  Progress `json:"progress"`
}

// Progress summarizes position in the curriculum.
type Progress struct {
	ChallengeIndex  int  `json:"challenge_index"`
	TotalChallenges int  `json:"total_challenges"`
	StepIndex       int  `json:"step_index"`
	TotalSteps      int  `json:"total_steps"`
	Completed       bool `json:"completed"`
}

// Guide serves sessions over a fixed curriculum.
type Guide struct {
	challenges []Challenge

	mu       sync.RWMutex
	sessions map[uint]*Session
}

// New creates a guide with the default curriculum.
func New() *Guide {
	return NewWithChallenges(DefaultChallenges())
}

// NewWithChallenges creates a guide over a custom curriculum. Tests use
// this.
func NewWithChallenges(challenges []Challenge) *Guide {
	return &Guide{
		challenges: challenges,
		sessions:   make(map[uint]*Session),
	}
}

// Start begins (or restarts) a session for the user and returns the opening
// message.
func (g *Guide) Start(userID uint) *Reply {
	g.mu.Lock()
	session := &Session{
		UserID:    userID,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	g.sessions[userID] = session
	g.mu.Unlock()

	ch := g.challenges[0]
	step := ch.Steps[0]
	return &Reply{
		Intent: IntentStatus,
		Message: fmt.Sprintf("Welcome! First challenge: %s. %s\n\nStep 1: %s\n%s",
			ch.Title, ch.Description, step.Title, step.Instruction),
		Challenge: ch.Title,
		Step:      step.Title,
		Progress:  g.progressFor(session),
	}
}

// Handle processes a user message against their session.
func (g *Guide) Handle(userID uint, message string) (*Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	session, ok := g.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("no active guide session, call start first")
	}

	if session.Completed {
		return &Reply{
			Intent:   IntentStatus,
			Message:  "You've completed every challenge. Start again any time!",
			Progress: g.progressFor(session),
		}, nil
	}

	intent := ClassifyIntent(message)
	session.UpdatedAt = time.Now()

	switch intent {
	case IntentCompletion:
		session.HelpCount = 0
		return g.advance(session, "Nice work!"), nil

	case IntentSkip:
		session.HelpCount = 0
		return g.advance(session, "Skipping ahead."), nil

	case IntentHelp:
		session.HelpCount++
		return g.helpReply(session), nil

	case IntentStatus:
		ch, step := g.current(session)
		return &Reply{
			Intent: IntentStatus,
			Message: fmt.Sprintf("You're on challenge %d of %d (%s), step %d of %d: %s",
				session.ChallengeIndex+1, len(g.challenges), ch.Title,
				session.StepIndex+1, len(ch.Steps), step.Title),
			Challenge: ch.Title,
			Step:      step.Title,
			Progress:  g.progressFor(session),
		}, nil

	default:
		ch, step := g.current(session)
		return &Reply{
			Intent: IntentUnknown,
			Message: fmt.Sprintf("I'm tracking your progress on: %s. Tell me when you're done, ask for help, or say skip.\n\nCurrent step: %s",
				ch.Title, step.Instruction),
			Challenge: ch.Title,
			Step:      step.Title,
			Progress:  g.progressFor(session),
		}, nil
	}
}

// GetSession returns the user's session, or nil.
func (g *Guide) GetSession(userID uint) *Session {
	g.mu.RLock()
	defer g.mu.RUnlock()

	session, ok := g.sessions[userID]
	if !ok {
		return nil
	}
	copied := *session
	return &copied
}

// advance moves to the next step, rolling into the next challenge at a
// challenge's final step.
func (g *Guide) advance(session *Session, prefix string) *Reply {
	ch := g.challenges[session.ChallengeIndex]

	if session.StepIndex+1 < len(ch.Steps) {
		session.StepIndex++
		step := ch.Steps[session.StepIndex]
		return &Reply{
			Intent: IntentCompletion,
			Message: fmt.Sprintf("%s Next step: %s\n%s",
				prefix, step.Title, step.Instruction),
			Challenge: ch.Title,
			Step:      step.Title,
			Progress:  g.progressFor(session),
		}
	}

	// Final step of the challenge: advance to the next challenge.
	if session.ChallengeIndex+1 < len(g.challenges) {
		session.ChallengeIndex++
		session.StepIndex = 0
		next := g.challenges[session.ChallengeIndex]
		step := next.Steps[0]
		return &Reply{
			Intent: IntentCompletion,
			Message: fmt.Sprintf("%s Challenge complete! Next up: %s. %s\n\nStep 1: %s\n%s",
				prefix, next.Title, next.Description, step.Title, step.Instruction),
			Challenge: next.Title,
			Step:      step.Title,
			Progress:  g.progressFor(session),
		}
	}

	session.Completed = true
	return &Reply{
		Intent:   IntentCompletion,
		Message:  prefix + " That was the final challenge - you've completed the whole guide!",
		Progress: g.progressFor(session),
	}
}

// helpReply escalates hints on repeated help requests for the same step.
func (g *Guide) helpReply(session *Session) *Reply {
	ch, step := g.current(session)

	var hint string
	switch {
	case len(step.Hints) == 0:
		hint = "Re-read the instruction and break it into smaller pieces: " + step.Instruction
	case session.HelpCount <= len(step.Hints):
		hint = step.Hints[session.HelpCount-1]
	default:
		// Out of hints: give everything.
		hint = "Here's everything I have:\n- " + strings.Join(step.Hints, "\n- ")
	}

	return &Reply{
		Intent:    IntentHelp,
		Message:   fmt.Sprintf("No problem. Hint for \"%s\": %s", step.Title, hint),
		Challenge: ch.Title,
		Step:      step.Title,
		Progress:  g.progressFor(session),
	}
}

func (g *Guide) current(session *Session) (Challenge, Step) {
	ch := g.challenges[session.ChallengeIndex]
	return ch, ch.Steps[session.StepIndex]
}

func (g *Guide) progressFor(session *Session) Progress {
	totalSteps := 0
	if session.ChallengeIndex < len(g.challenges) {
		totalSteps = len(g.challenges[session.ChallengeIndex].Steps)
	}
	return Progress{
		ChallengeIndex:  session.ChallengeIndex,
		TotalChallenges: len(g.challenges),
		StepIndex:       session.StepIndex,
		TotalSteps:      totalSteps,
		Completed:       session.Completed,
	}
}

// DefaultChallenges is the built-in curriculum.
func DefaultChallenges() []Challenge {
	return []Challenge{
		{
			ID:          "first-app",
			Title:       "Build your first app",
			Description: "Describe an app and generate its scaffold.",
			Steps: []Step{
				{
					Title:       "Describe the app",
					Instruction: "Write one or two sentences describing what your app should do and who it's for.",
					Hints: []string{
						"Start with the single most important thing a user does in your app.",
						"A good shape is: \"An app where [who] can [do what] so that [why]\".",
					},
				},
				{
					Title:       "Generate the scaffold",
					Instruction: "Send your description to the builder and review the generated files.",
					Hints: []string{
						"Look at index.html first - it's the entry point.",
						"Open the preview to see the scaffold running before changing anything.",
					},
				},
			},
		},
		{
			ID:          "customize",
			Title:       "Customize the design",
			Description: "Change colors, layout, and text to make it yours.",
			Steps: []Step{
				{
					Title:       "Change the heading",
					Instruction: "Edit the main heading text and reload the preview.",
					Hints: []string{
						"Headings live in index.html inside <h1> tags.",
					},
				},
				{
					Title:       "Restyle a component",
					Instruction: "Ask the customizer to change the color scheme, then compare the diff.",
					Hints: []string{
						"Be specific: name the element and the color you want.",
						"Colors are set in styles.css - search for background or color properties.",
					},
				},
			},
		},
		{
			ID:          "data",
			Title:       "Add real data",
			Description: "Wire the UI to an API and persist something.",
			Steps: []Step{
				{
					Title:       "Add a form",
					Instruction: "Add a form that captures one piece of data from the user.",
					Hints: []string{
						"A form needs an input, a submit button, and a submit handler.",
						"Prevent the default submit so the page doesn't reload: event.preventDefault().",
					},
				},
				{
					Title:       "Save and list",
					Instruction: "Persist submitted entries and render the list on load.",
					Hints: []string{
						"localStorage is the quickest way to persist in the browser.",
						"JSON.stringify on save, JSON.parse on load.",
					},
				},
			},
		},
	}
}
