package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ferry/internal/record"
)

// Scenario is a scripted run of the outbox against an in-memory remote.
// Steps execute in order; assertions are checked afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Collections overrides the default collection graph.
	Collections []record.CollectionSpec `yaml:"collections,omitempty"`

	// MaxAttempts overrides the retry budget. Zero keeps the default.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Steps drive the outbox. Each step sets exactly one field.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final store state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action.
type Step struct {
	// Enqueue writes a record.
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`

	// Online reports the platform connectivity signal.
	Online *bool `yaml:"online,omitempty"`

	// Sync runs one pass.
	Sync bool `yaml:"sync,omitempty"`

	// Advance moves the clock, e.g. "10m".
	Advance string `yaml:"advance,omitempty"`

	// Fail makes the remote reject submissions of one record.
	Fail *FailStep `yaml:"fail,omitempty"`

	// RetryReview requeues the needs-review record with this ref.
	RetryReview string `yaml:"retry_review,omitempty"`

	// ExpectPending checks the pending count at this point.
	ExpectPending *int `yaml:"expect_pending,omitempty"`
}

// EnqueueStep describes one Enqueue call.
type EnqueueStep struct {
	// Ref names the record for later steps and assertions.
	Ref string `yaml:"ref"`

	Collection string `yaml:"collection"`

	// Payload is any YAML value; it is encoded as JSON. Leaving it out
	// enqueues an empty payload.
	Payload any `yaml:"payload"`

	// Parent is the ref of a previously enqueued record.
	Parent string `yaml:"parent,omitempty"`

	// ExpectError names the error Enqueue must return:
	// invalid_payload, unknown_parent or unknown_collection.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// FailStep injects remote errors for one record.
type FailStep struct {
	Ref     string `yaml:"ref"`
	Status  int    `yaml:"status"`
	Message string `yaml:"message,omitempty"`

	// Times is how many submissions fail before the remote accepts the
	// record again. Zero fails every submission.
	Times int `yaml:"times,omitempty"`
}

// Assertion validates the outcome.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Ref names the record (synced, unsynced, needs_review, submit_count,
	// parent_resolved, attempts).
	Ref string `yaml:"ref,omitempty"`

	// Refs lists records in expected submission order (submit_order).
	Refs []string `yaml:"refs,omitempty"`

	// Count is the expected number (pending, submit_count, attempts).
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertPending        = "pending"
	AssertSynced         = "synced"
	AssertUnsynced       = "unsynced"
	AssertNeedsReview    = "needs_review"
	AssertSubmitOrder    = "submit_order"
	AssertSubmitCount    = "submit_count"
	AssertParentResolved = "parent_resolved"
	AssertAttempts       = "attempts"
)

// Enqueue error names accepted by EnqueueStep.ExpectError.
const (
	ExpectInvalidPayload    = "invalid_payload"
	ExpectUnknownParent     = "unknown_parent"
	ExpectUnknownCollection = "unknown_collection"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that refs are declared before
// use.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, refs); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, refs map[string]bool) error {
	set := 0
	if step.Enqueue != nil {
		set++
	}
	if step.Online != nil {
		set++
	}
	if step.Sync {
		set++
	}
	if step.Advance != "" {
		set++
	}
	if step.Fail != nil {
		set++
	}
	if step.RetryReview != "" {
		set++
	}
	if step.ExpectPending != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action per step, got %d", index, set)
	}

	switch {
	case step.Enqueue != nil:
		e := step.Enqueue
		if e.Ref == "" {
			return fmt.Errorf("steps[%d]: enqueue.ref is required", index)
		}
		if refs[e.Ref] {
			return fmt.Errorf("steps[%d]: ref %q already used", index, e.Ref)
		}
		if e.Collection == "" {
			return fmt.Errorf("steps[%d]: enqueue.collection is required", index)
		}
		if e.Parent != "" && !refs[e.Parent] && e.ExpectError == "" {
			return fmt.Errorf("steps[%d]: parent %q is not a previous ref", index, e.Parent)
		}
		switch e.ExpectError {
		case "", ExpectInvalidPayload, ExpectUnknownParent, ExpectUnknownCollection:
		default:
			return fmt.Errorf("steps[%d]: unknown expect_error %q", index, e.ExpectError)
		}
		if e.ExpectError == "" {
			refs[e.Ref] = true
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	case step.Fail != nil:
		f := step.Fail
		if !refs[f.Ref] {
			return fmt.Errorf("steps[%d]: fail.ref %q is not a previous ref", index, f.Ref)
		}
		if f.Status < 100 || f.Status > 599 {
			return fmt.Errorf("steps[%d]: fail.status %d is not an HTTP status", index, f.Status)
		}
		if f.Times < 0 {
			return fmt.Errorf("steps[%d]: fail.times must be non-negative", index)
		}
	case step.RetryReview != "":
		if !refs[step.RetryReview] {
			return fmt.Errorf("steps[%d]: retry_review %q is not a previous ref", index, step.RetryReview)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, refs map[string]bool) error {
	needRef := func() error {
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for %s", index, a.Type)
		}
		if !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: unknown ref %q", index, a.Ref)
		}
		return nil
	}

	switch a.Type {
	case AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertSynced, AssertUnsynced, AssertNeedsReview, AssertParentResolved:
		return needRef()
	case AssertSubmitCount, AssertAttempts:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
		return needRef()
	case AssertSubmitOrder:
		if len(a.Refs) < 2 {
			return fmt.Errorf("assertions[%d]: refs needs at least two entries for submit_order", index)
		}
		for _, r := range a.Refs {
			if !refs[r] {
				return fmt.Errorf("assertions[%d]: unknown ref %q", index, r)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
