package casefile

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/myrjola/amlnarrator/internal/logging"
)

// Typology is an alert category. Case folders are named "<id> - <abbreviation> - <description>".
type Typology struct {
	Abbreviation string
	Name         string
}

var typologies = map[string]string{
	"COS": "Comunicación de operativa sospechosa desde oficina",
	"UE":  "Uso de efectivo",
	"TI":  "Transferencias internacionales",
	"CNC": "Clientes de nueva captación",
	"CL":  "Cuentas vulnerables",
}

// Typologies returns the known typologies sorted by abbreviation.
func Typologies() []Typology {
	out := make([]Typology, 0, len(typologies))
	for abbreviation, name := range typologies {
		out = append(out, Typology{Abbreviation: abbreviation, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Abbreviation < out[j].Abbreviation })
	return out
}

// TypologyOf reads the typology from the second segment of a case folder name.
func TypologyOf(caseID string) (Typology, bool) {
	parts := strings.Split(caseID, " - ")
	if len(parts) < 2 {
		return Typology{}, false
	}
	abbreviation := strings.ToUpper(strings.TrimSpace(parts[1]))
	name, ok := typologies[abbreviation]
	if !ok {
		return Typology{}, false
	}
	return Typology{Abbreviation: abbreviation, Name: name}, true
}

func withCase(ctx context.Context, caseID string) context.Context {
	return logging.WithAttrs(ctx, slog.String("case_id", caseID))
}
