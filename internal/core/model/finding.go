package model

import "strings"

type FindingType string

const (
	FindingSolidNodule       FindingType = "solid_nodule"
	FindingGroundGlassNodule FindingType = "ground_glass_nodule"
	FindingPartSolidNodule   FindingType = "part_solid_nodule"
	FindingConsolidation     FindingType = "consolidation"
	FindingLiverLesion       FindingType = "liver_lesion"
	FindingOther             FindingType = "other"
)

// Finding is one structured clinical observation extracted from a report.
// Immutable once created; downstream stages reference it read-only.
type Finding struct {
	FindingID       string      `json:"finding_id"`
	Type            FindingType `json:"type"`
	SizeMM          *float64    `json:"size_mm,omitempty"`
	Location        string      `json:"location"`
	Characteristics []string    `json:"characteristics"`
	Confidence      float64     `json:"confidence"`
	SourceText      string      `json:"source_text,omitempty"`
}

// LineageKey identifies a finding lineage across sessions for the same
// patient: same type at the same (normalized) location.
func (f Finding) LineageKey(patientID string) string {
	loc := strings.ToLower(strings.TrimSpace(f.Location))
	return patientID + "|" + string(f.Type) + "|" + loc
}

func (f Finding) HasCharacteristic(tag string) bool {
	for _, c := range f.Characteristics {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}
