package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end rule scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// RuleSets lists rule-set files (.json, .yaml, .cue). Each is stored
	// under its file name without the extension.
	RuleSets []string `yaml:"ruleSets"`

	// Seed documents are written before the trigger. Their changes do not
	// fire the document trigger.
	Seed []SeedDoc `yaml:"seed,omitempty"`

	// Stubs registers record-only actions returning the given result.
	// A stub replaces a built-in of the same name.
	Stubs map[string]any `yaml:"stubs,omitempty"`

	Trigger    TriggerStep `yaml:"trigger"`
	Assertions []Assertion `yaml:"assertions"`
}

// SeedDoc is a document written before the trigger.
type SeedDoc struct {
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id"`
	Data       map[string]any `yaml:"data"`
}

// Trigger types.
const (
	TriggerDoc       = "doc"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// TriggerStep starts the scenario.
type TriggerStep struct {
	Type string `yaml:"type"`

	// Change is the document write for doc triggers.
	Change *ChangeStep `yaml:"change,omitempty"`

	// At is the RFC 3339 instant of a scheduled tick. Defaults to the
	// harness clock.
	At string `yaml:"at,omitempty"`

	// Request is the HTTP request for api triggers.
	Request *RequestStep `yaml:"request,omitempty"`
}

// ChangeStep is a document write: create, update (merge) or delete.
type ChangeStep struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id"`
	Data       map[string]any `yaml:"data,omitempty"`
}

// RequestStep is an HTTP request to the api handler. Body is sent as JSON.
type RequestStep struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Body   any    `yaml:"body,omitempty"`
}

// Assertion type constants.
const (
	AssertActionCalled = "action_called"
	AssertActionCount  = "action_count"
	AssertActionOrder  = "action_order"
	AssertDocument     = "document"
	AssertResponse     = "response"
)

// Assertion checks the trace, the store or the api response.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is the action name (action_called, action_count).
	Action string `yaml:"action,omitempty"`

	// Params is a subset match on the resolved params (action_called).
	Params map[string]any `yaml:"params,omitempty"`

	// Count is the exact number of calls (action_count).
	Count *int `yaml:"count,omitempty"`

	// Actions is the expected relative call order (action_order).
	Actions []string `yaml:"actions,omitempty"`

	// Collection and ID select documents (document). Without an ID the
	// assertion holds if any document in the collection matches.
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`
	Absent     bool   `yaml:"absent,omitempty"`

	// Expect is a subset match on document data or response data.
	Expect any `yaml:"expect,omitempty"`

	// Status and Error check the api response (response).
	Status int    `yaml:"status,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// LoadScenario reads a scenario file. Rule-set paths are resolved relative
// to the file. Unknown fields are an error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.RuleSets {
		if !filepath.IsAbs(p) {
			scenario.RuleSets[i] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for _, p := range s.RuleSets {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("rule-set file not found: %s", p)
		}
	}
	for i, d := range s.Seed {
		if d.Collection == "" || d.ID == "" {
			return fmt.Errorf("seed[%d]: collection and id are required", i)
		}
	}

	switch t := s.Trigger; t.Type {
	case TriggerDoc:
		if t.Change == nil {
			return fmt.Errorf("trigger: doc trigger requires change")
		}
		switch t.Change.Type {
		case "create", "update", "delete":
		default:
			return fmt.Errorf("trigger.change.type: must be create, update or delete, got %q", t.Change.Type)
		}
		if t.Change.Collection == "" || t.Change.ID == "" {
			return fmt.Errorf("trigger.change: collection and id are required")
		}
	case TriggerScheduled:
		if t.At != "" {
			if _, err := time.Parse(time.RFC3339, t.At); err != nil {
				return fmt.Errorf("trigger.at: %w", err)
			}
		}
	case TriggerAPI:
		if t.Request == nil || t.Request.Method == "" || t.Request.Path == "" {
			return fmt.Errorf("trigger: api trigger requires request.method and request.path")
		}
	default:
		return fmt.Errorf("trigger.type: must be doc, scheduled or api, got %q", t.Type)
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertActionCalled:
		if a.Action == "" {
			return fmt.Errorf("action is required")
		}
	case AssertActionCount:
		if a.Action == "" || a.Count == nil {
			return fmt.Errorf("action and count are required")
		}
	case AssertActionOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("actions needs at least two entries")
		}
	case AssertDocument:
		if a.Collection == "" {
			return fmt.Errorf("collection is required")
		}
	case AssertResponse:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
