package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/lexiqai/live-translator/internal/stt"
)

// Policy decides how message text merges into the running transcript
type Policy int

const (
	// PolicyAppend treats each message as a new increment
	PolicyAppend Policy = iota
	// PolicyReplace treats each message as the full transcript so far
	PolicyReplace
)

func (p Policy) String() string {
	switch p {
	case PolicyAppend:
		return "append"
	case PolicyReplace:
		return "replace"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a config value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return PolicyAppend, nil
	case "replace":
		return PolicyReplace, nil
	default:
		return 0, fmt.Errorf("unknown transcript merge policy %q", s)
	}
}

// Running is the transcript accumulated over one capture session
type Running struct {
	Text             string
	DetectedLanguage string
	Confidence       float64
	HasLanguage      bool
	HasConfidence    bool
	Messages         int
}

type runningJSON struct {
	Text             string   `json:"text"`
	DetectedLanguage *string  `json:"detected_lang,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Messages         int      `json:"messages"`
}

// MarshalJSON omits language and confidence until a message has set
// them. A reported confidence of 0 is kept.
func (r Running) MarshalJSON() ([]byte, error) {
	out := runningJSON{Text: r.Text, Messages: r.Messages}
	if r.HasLanguage {
		lang := r.DetectedLanguage
		out.DetectedLanguage = &lang
	}
	if r.HasConfidence {
		conf := r.Confidence
		out.Confidence = &conf
	}
	return json.Marshal(out)
}

// Aggregator merges recognition messages in arrival order. The merge
// policy is fixed at construction. Language and confidence are always
// last-write-wins.
type Aggregator struct {
	policy Policy

	mu       sync.RWMutex
	current  Running
	hasText  bool
	onUpdate func(Running)
}

// NewAggregator creates an empty aggregator
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Policy returns the merge policy
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// OnUpdate registers a hook called with every new snapshot after Apply.
func (a *Aggregator) OnUpdate(fn func(Running)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUpdate = fn
}

// Apply merges one message and returns the resulting transcript
func (a *Aggregator) Apply(msg stt.Message) Running {
	a.mu.Lock()

	if msg.Text != nil {
		text := *msg.Text
		switch a.policy {
		case PolicyReplace:
			a.current.Text = text
			a.hasText = true
		default:
			// Same result as strings.Join over every text seen, empties included
			if a.hasText {
				a.current.Text += " " + text
			} else {
				a.current.Text = text
				a.hasText = true
			}
		}
	}

	if msg.DetectedLanguage != nil {
		a.current.DetectedLanguage = *msg.DetectedLanguage
		a.current.HasLanguage = true
	}
	if msg.Confidence != nil {
		a.current.Confidence = *msg.Confidence
		a.current.HasConfidence = true
	}
	a.current.Messages++

	snapshot := a.current
	onUpdate := a.onUpdate
	a.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snapshot)
	}
	return snapshot
}

// Reset clears the transcript for a new session
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = Running{}
	a.hasText = false
}

// Snapshot returns the current transcript
func (a *Aggregator) Snapshot() Running {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}
