package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/gepdash/internal/errors"
)

// MaxNameChars is the longest name the remote accepts.
const MaxNameChars = 100

// GeneCreate is the body of a gene create request.
type GeneCreate struct {
	Name           string      `json:"name"`
	Description    *string     `json:"description,omitempty"`
	Implementation *string     `json:"implementation,omitempty"`
	PromptTemplate *string     `json:"prompt_template,omitempty"`
	Status         *GeneStatus `json:"status,omitempty"`
	SuccessRate    *float64    `json:"success_rate,omitempty"`
	ContextTags    []string    `json:"context_tags,omitempty"`
}

// Validate checks the request before it is sent.
func (in GeneCreate) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	return validateGeneFields(in.Status, in.SuccessRate)
}

// GeneUpdate is the body of a gene update request. Nil fields are not sent.
type GeneUpdate struct {
	Name           *string     `json:"name,omitempty"`
	Description    *string     `json:"description,omitempty"`
	Implementation *string     `json:"implementation,omitempty"`
	PromptTemplate *string     `json:"prompt_template,omitempty"`
	Status         *GeneStatus `json:"status,omitempty"`
	SuccessRate    *float64    `json:"success_rate,omitempty"`
	ContextTags    *[]string   `json:"context_tags,omitempty"`
}

// Validate checks the request before it is sent.
func (in GeneUpdate) Validate() error {
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return err
		}
	}
	return validateGeneFields(in.Status, in.SuccessRate)
}

// CapsuleCreate is the body of a capsule create request.
type CapsuleCreate struct {
	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	ExecutionTimeMS *int            `json:"execution_time_ms,omitempty"`
	GeneIDs         []string        `json:"gene_ids,omitempty"`
}

// Validate checks the request before it is sent.
func (in CapsuleCreate) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateSchema("input_schema", in.InputSchema); err != nil {
		return err
	}
	if err := validateSchema("output_schema", in.OutputSchema); err != nil {
		return err
	}
	return validateExecutionTime(in.ExecutionTimeMS)
}

// CapsuleUpdate is the body of a capsule update request. Nil fields are not sent.
type CapsuleUpdate struct {
	Name            *string         `json:"name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	InputSchema     json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	ExecutionTimeMS *int            `json:"execution_time_ms,omitempty"`
	GeneIDs         *[]string       `json:"gene_ids,omitempty"`
}

// Validate checks the request before it is sent.
func (in CapsuleUpdate) Validate() error {
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return err
		}
	}
	if err := validateSchema("input_schema", in.InputSchema); err != nil {
		return err
	}
	if err := validateSchema("output_schema", in.OutputSchema); err != nil {
		return err
	}
	return validateExecutionTime(in.ExecutionTimeMS)
}

// EventCreate is the body of an event create request. Events are immutable
// once created.
type EventCreate struct {
	EventType   EventType       `json:"event_type"`
	CapsuleID   *string         `json:"capsule_id,omitempty"`
	Description *string         `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the request before it is sent.
func (in EventCreate) Validate() error {
	if !in.EventType.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("event_type must be one of %v, got %q", EventTypes, in.EventType))
	}
	return validateSchema("payload", in.Payload)
}

func validateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 {
		return errors.NewInvalidRequest("name is required")
	}
	if n > MaxNameChars {
		return errors.NewInvalidRequest(fmt.Sprintf("name exceeds %d characters", MaxNameChars))
	}
	return nil
}

func validateGeneFields(status *GeneStatus, rate *float64) error {
	if status != nil && !status.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("status must be draft, validated or deprecated, got %q", *status))
	}
	if rate != nil && (math.IsNaN(*rate) || *rate < 0 || *rate > 1) {
		return errors.NewInvalidRequest(fmt.Sprintf("success_rate must be between 0 and 1, got %v", *rate))
	}
	return nil
}

func validateExecutionTime(ms *int) error {
	if ms != nil && *ms < 0 {
		return errors.NewInvalidRequest("execution_time_ms must be non-negative")
	}
	return nil
}

// validateSchema requires opaque documents to be JSON objects when present.
func validateSchema(field string, raw json.RawMessage) error {
	if !Present(raw) {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("%s must be a JSON object", field))
	}
	return nil
}

// Present reports whether an opaque document holds a non-null value.
func Present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}
