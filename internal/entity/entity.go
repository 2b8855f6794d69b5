// Package entity defines the records served by the remote collection service.
//
// Records are values: the cache replaces them wholesale on refetch and never
// patches individual fields.
package entity

import (
	"encoding/json"
	"math"
)

// Kind names a record type. It is also the first component of a query key.
type Kind string

const (
	KindGene    Kind = "gene"
	KindCapsule Kind = "capsule"
	KindEvent   Kind = "event"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindGene, KindCapsule, KindEvent}

// GeneStatus is the lifecycle status of a Gene.
type GeneStatus string

const (
	GeneDraft      GeneStatus = "draft"
	GeneValidated  GeneStatus = "validated"
	GeneDeprecated GeneStatus = "deprecated"
)

// Valid reports whether s is a known status.
func (s GeneStatus) Valid() bool {
	switch s {
	case GeneDraft, GeneValidated, GeneDeprecated:
		return true
	}
	return false
}

// EventType classifies an Event.
type EventType string

const (
	EventMutation    EventType = "mutation"
	EventRepair      EventType = "repair"
	EventValidation  EventType = "validation"
	EventCreation    EventType = "creation"
	EventDeprecation EventType = "deprecation"
	EventExecution   EventType = "execution"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventMutation, EventRepair, EventValidation,
	EventCreation, EventDeprecation, EventExecution,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Gene is an atomic, reusable capability unit.
type Gene struct {
	// ID is assigned by the remote service
	ID string `json:"id"`

	Name           string  `json:"name"`
	Description    *string `json:"description"`
	Implementation *string `json:"implementation"`
	PromptTemplate *string `json:"prompt_template"`

	Status GeneStatus `json:"status"`

	// SuccessRate is the canonical fraction in [0,1]
	SuccessRate float64 `json:"success_rate"`

	ContextTags []string `json:"context_tags"`

	// CreatedAt and UpdatedAt are opaque ordering tokens (RFC 3339 from the remote)
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SuccessPercent returns the success rate as a percentage rounded to one decimal.
func (g Gene) SuccessPercent() float64 {
	return math.Round(g.SuccessRate*1000) / 10
}

// Capsule is a workflow composed of Genes.
type Capsule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`

	// InputSchema and OutputSchema are opaque JSON documents
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	ExecutionTimeMS *int `json:"execution_time_ms"`

	// GeneIDs are weak references; a referenced Gene may not exist.
	GeneIDs []string `json:"gene_ids"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Event is an immutable evolution log entry.
type Event struct {
	ID string `json:"id"`

	// CapsuleID is a weak reference to a Capsule
	CapsuleID *string `json:"capsule_id"`

	EventType   EventType       `json:"event_type"`
	Description *string         `json:"description"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   string          `json:"created_at"`
}
