package identity

import (
	"math"
	"strings"

	"github.com/andresmejia3/screener/internal/gallery"
	"github.com/andresmejia3/screener/internal/types"
)

// Field is one line of a person record.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FaceReport is the presentable outcome for one detected face. Restricted
// matches carry the full record; general matches only name and status.
type FaceReport struct {
	Box      []int    `json:"box,omitempty"`
	Label    string   `json:"label"`
	Origin   string   `json:"origin"`
	Distance *float64 `json:"distance"`
	Record   []Field  `json:"record,omitempty"`
}

// NewFaceReport builds the report for a face and its classification.
func NewFaceReport(face types.FaceResult, res types.ClassificationResult) FaceReport {
	r := FaceReport{Box: face.Loc, Label: res.Label, Origin: res.Origin.String()}
	if !math.IsInf(res.Distance, 0) && !math.IsNaN(res.Distance) {
		d := res.Distance
		r.Distance = &d
	}
	if res.MatchedEntry == nil {
		return r
	}

	meta := gallery.Metadata(res.MatchedEntry.Metadata)
	r.Record = []Field{
		{"Name", res.MatchedEntry.Label},
		{"Status", meta.Status()},
	}
	if res.Origin == types.OriginRestricted {
		r.Record = append(r.Record,
			Field{"Age", meta.Age()},
			Field{"Crime", meta.Crime()},
			Field{"Last Crime Date", meta.LastCrimeDate()},
			Field{"Recidivism Risk", meta.Risk()},
			Field{"Case Number", meta.CaseNumber()},
		)
	}
	return r
}

// String renders the report as a short card for the terminal.
func (r FaceReport) String() string {
	var b strings.Builder
	switch r.Origin {
	case types.OriginRestricted.String():
		b.WriteString("🚨 RESTRICTED: ")
	case types.OriginGeneral.String():
		b.WriteString("✅ GENERAL: ")
	default:
		b.WriteString("❔ ")
	}
	b.WriteString(r.Label)
	for _, f := range r.Record {
		if f.Value == "" {
			continue
		}
		b.WriteString("\n   ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}
