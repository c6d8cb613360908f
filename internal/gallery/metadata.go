package gallery

// Metadata reads the positional record kept with each gallery entry.
// Columns follow the export layout; missing columns read as "".
type Metadata []string

const (
	colStatus     = 2
	colAge        = 3
	colCrime      = 4
	colLastCrime  = 6
	colRisk       = 7
	colCaseNumber = 8
)

func (m Metadata) at(i int) string {
	if i < len(m) {
		return m[i]
	}
	return ""
}

func (m Metadata) Status() string        { return m.at(colStatus) }
func (m Metadata) Age() string           { return m.at(colAge) }
func (m Metadata) Crime() string         { return m.at(colCrime) }
func (m Metadata) LastCrimeDate() string { return m.at(colLastCrime) }
func (m Metadata) Risk() string          { return m.at(colRisk) }
func (m Metadata) CaseNumber() string    { return m.at(colCaseNumber) }
