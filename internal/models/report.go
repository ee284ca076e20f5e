package models

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/myrjola/amlnarrator/internal/errors"
)

// ReportType selects the fixed question set a case is driven through.
type ReportType string

const (
	ReportTypePreNarrative ReportType = "pre-narrative"
	ReportTypeNarrative    ReportType = "narrative"
	ReportTypeSAR          ReportType = "sar"
)

var ErrUnknownReportType = errors.NewSentinel("unknown report type")

// ReportTypes lists the report types in the order an investigation produces them.
func ReportTypes() []ReportType {
	return []ReportType{ReportTypePreNarrative, ReportTypeNarrative, ReportTypeSAR}
}

// ParseReportType validates s as a report type.
func ParseReportType(s string) (ReportType, error) {
	rt := ReportType(strings.ToLower(strings.TrimSpace(s)))
	switch rt {
	case ReportTypePreNarrative, ReportTypeNarrative, ReportTypeSAR:
		return rt, nil
	default:
		return "", errors.Wrap(ErrUnknownReportType, "parse report type", slog.String("report_type", s))
	}
}

// Title is the human-readable name used in the narrative header.
func (rt ReportType) Title() string {
	switch rt {
	case ReportTypePreNarrative:
		return "Pre-narrativa"
	case ReportTypeNarrative:
		return "Narrativa"
	case ReportTypeSAR:
		return "Comunicación por indicio"
	default:
		return string(rt)
	}
}

// SessionID identifies the conversation session of one case and report type.
func SessionID(caseID string, rt ReportType) string {
	return caseID + "/" + string(rt)
}

// Report is the persisted outcome of a generation run for one case and report type.
type Report struct {
	CaseID      string
	ReportType  ReportType
	RunID       string
	GeneratedAt time.Time
	Model       string
	Temperature float64
	Slots       []Slot
}

// Header is the markup preamble of the narrative. The generation time is shown in local time.
func (r *Report) Header() string {
	generated := r.GeneratedAt.Local()
	return fmt.Sprintf(
		"## %s para el caso «%s»\n\n> Generada el %s a las %s usando el modelo de lenguaje «%s» (con temperatura %s).",
		r.ReportType.Title(),
		r.CaseID,
		generated.Format("02/01/2006"),
		generated.Format("15:04"),
		r.Model,
		formatTemperature(r.Temperature),
	)
}

// Narrative returns the header followed by the non-empty prose answers in slot order.
func (r *Report) Narrative() []string {
	sections := []string{r.Header()}
	for _, slot := range r.ordered() {
		if slot.Kind != KindProse || strings.TrimSpace(slot.Answer) == "" {
			continue
		}
		sections = append(sections, slot.Answer)
	}
	return sections
}

// Graph returns the first answered graph slot's answer or empty string.
func (r *Report) Graph() string {
	for _, slot := range r.ordered() {
		if slot.Kind == KindGraph && slot.State == SlotStateAnswered {
			return slot.Answer
		}
	}
	return ""
}

// Slot returns the slot with tag or false.
func (r *Report) Slot(tag SlotTag) (Slot, bool) {
	for _, slot := range r.Slots {
		if slot.Tag == tag {
			return slot, true
		}
	}
	return Slot{}, false
}

func (r *Report) ordered() []Slot {
	slots := make([]Slot, len(r.Slots))
	copy(slots, r.Slots)
	// Insertion sort keeps equal positions stable; question sets are small.
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].Position < slots[j-1].Position; j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
	return slots
}

func formatTemperature(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
