// Package model holds the tagged-union and entity types shared by the
// scraper, publisher, and approval gate.
package model

import "fmt"

// Series is the closed set of racing championships this system scrapes.
type Series string

const (
	SeriesF1 Series = "F1"
	SeriesF2 Series = "F2"
	SeriesF3 Series = "F3"

	// seriesF1Academy is reserved but unsupported — the source's fourth
	// variant. ParseSeries rejects it explicitly instead of silently
	// defaulting to one of the three supported series.
	seriesF1Academy Series = "F1Academy"
)

// AllSeries is the fixed processing order the scraper loop iterates in.
var AllSeries = []Series{SeriesF1, SeriesF2, SeriesF3}

// ErrUnsupportedSeries is returned by ParseSeries for the reserved
// F1Academy variant and for any unrecognized value.
type ErrUnsupportedSeries struct {
	Value string
}

func (e *ErrUnsupportedSeries) Error() string {
	return fmt.Sprintf("series %q is not supported", e.Value)
}

// ParseSeries validates a stored or configured series string. It never
// defaults silently — F1Academy and anything else unrecognized is a
// named error.
func ParseSeries(s string) (Series, error) {
	switch Series(s) {
	case SeriesF1, SeriesF2, SeriesF3:
		return Series(s), nil
	case seriesF1Academy:
		return "", &ErrUnsupportedSeries{Value: s}
	default:
		return "", &ErrUnsupportedSeries{Value: s}
	}
}

// SourceURL returns the fixed FIA documents index URL for the series.
func (s Series) SourceURL(yearRange string) string {
	switch s {
	case SeriesF1:
		return "https://www.fia.com/documents/championships/fia-formula-one-world-championship-14/season/" + yearRange
	case SeriesF2:
		return "https://www.fia.com/documents/season/" + yearRange + "/championships/formula-2-championship-44"
	case SeriesF3:
		return "https://www.fia.com/documents/season/" + yearRange + "/championships/fia-formula-3-championship-1012"
	default:
		return ""
	}
}

func (s Series) String() string { return string(s) }
