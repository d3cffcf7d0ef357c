// Package mutation defines the deferred-write model for the offline queue:
// the three mutation kinds, their closed payload variants, and the offline
// image asset record.
package mutation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies one of the three deferred-write categories.
type Kind string

const (
	KindWorkOrderStatus   Kind = "work_order_status"
	KindMaterialEquipment Kind = "material_equipment"
	KindSurvey            Kind = "survey"
)

// Kinds lists all mutation kinds in drain order: work-order status first,
// then material/equipment, then survey.
var Kinds = []Kind{KindWorkOrderStatus, KindMaterialEquipment, KindSurvey}

// Valid reports whether k is a known mutation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWorkOrderStatus, KindMaterialEquipment, KindSurvey:
		return true
	}
	return false
}

// Payload is the closed set of mutation bodies. Implementations are validated
// at the boundary before being persisted.
type Payload interface {
	Kind() Kind
	Validate() error
}

// WorkOrderStatusPayload carries a work-order status transition.
type WorkOrderStatusPayload struct {
	StatusCode string `json:"status_code"`
	Remark     string `json:"remark,omitempty"`
}

func (p WorkOrderStatusPayload) Kind() Kind { return KindWorkOrderStatus }

func (p WorkOrderStatusPayload) Validate() error {
	if p.StatusCode == "" {
		return fmt.Errorf("status code is required")
	}
	return nil
}

// ChecklistItem is one line of a material/equipment checklist.
type ChecklistItem struct {
	ItemCode string `json:"item_code"`
	Quantity int    `json:"quantity"`
	Checked  bool   `json:"checked"`
}

// MaterialEquipmentPayload carries material/equipment checklist edits.
type MaterialEquipmentPayload struct {
	Items []ChecklistItem `json:"items"`
}

func (p MaterialEquipmentPayload) Kind() Kind { return KindMaterialEquipment }

func (p MaterialEquipmentPayload) Validate() error {
	if len(p.Items) == 0 {
		return fmt.Errorf("checklist must contain at least one item")
	}
	for i, item := range p.Items {
		if item.ItemCode == "" {
			return fmt.Errorf("item %d: item code is required", i)
		}
	}
	return nil
}

// SurveyPayload carries a survey submission. ImageIDs may contain synthetic
// offline identifiers; the sync engine resolves them to server identifiers
// before submission.
type SurveyPayload struct {
	Answers  map[string]string `json:"answers"`
	ImageIDs []string          `json:"image_ids,omitempty"`
}

func (p SurveyPayload) Kind() Kind { return KindSurvey }

func (p SurveyPayload) Validate() error {
	if len(p.Answers) == 0 {
		return fmt.Errorf("survey must contain at least one answer")
	}
	return nil
}

// PendingMutation represents one deferred write awaiting replay.
type PendingMutation struct {
	// ID is a ULID; its lexicographic order is creation order, which the
	// drain relies on for causal ordering per target.
	ID string `json:"id"`

	Kind     Kind   `json:"kind"`
	TargetID string `json:"target_id"`

	// Payload is the raw encoded mutation body for Kind.
	Payload json.RawMessage `json:"payload"`

	CreatedAt    time.Time `json:"created_at"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`

	// Failed marks a mutation whose attempt budget is exhausted. It stays in
	// the store for user attention but is skipped by the drain.
	Failed bool `json:"failed"`
}

// DecodePayload decodes the raw payload into the concrete variant for the
// mutation's kind.
func (m *PendingMutation) DecodePayload() (Payload, error) {
	return DecodePayload(m.Kind, m.Payload)
}

// New builds a PendingMutation for the given target after validating the
// payload.
func New(targetID string, payload Payload) (*PendingMutation, error) {
	if targetID == "" {
		return nil, fmt.Errorf("target id is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", payload.Kind(), err)
	}

	now := time.Now().UTC()
	return &PendingMutation{
		ID:        ulid.Make().String(),
		Kind:      payload.Kind(),
		TargetID:  targetID,
		Payload:   raw,
		CreatedAt: now,
	}, nil
}

// DecodePayload decodes raw bytes into the concrete payload variant for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindWorkOrderStatus:
		var p WorkOrderStatusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding work order status payload: %w", err)
		}
		return p, nil
	case KindMaterialEquipment:
		var p MaterialEquipmentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding material equipment payload: %w", err)
		}
		return p, nil
	case KindSurvey:
		var p SurveyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding survey payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", kind)
	}
}

// OfflineAsset represents a locally stored image pending upload.
type OfflineAsset struct {
	// SyntheticID is client-generated and recognizable as offline-origin by
	// format alone; see images.IsOfflineImageID.
	SyntheticID   string    `json:"synthetic_id"`
	OwnerSurveyID string    `json:"owner_survey_id"`
	Name          string    `json:"name"`
	MIME          string    `json:"mime"`
	Data          []byte    `json:"data"`
	CreatedAt     time.Time `json:"created_at"`
}
