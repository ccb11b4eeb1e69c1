package runfolder

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// SummarySuccessToken is the only State value the instrument writes for a
// run that completed as planned. Anything else, including a missing or
// unreadable field, counts as an instrument failure.
const SummarySuccessToken = "CompletedAsPlanned"

// The summary is XML-shaped but the engine never needs general XML: one
// scalar field is extracted permissively and compared against the single
// known token.
var summaryStatePattern = regexp.MustCompile(`<State>\s*([^<]*?)\s*</State>`)

// SummaryState extracts the State field from a run summary file. A missing
// field yields an empty string, not an error; only read failures error.
func SummaryState(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read run summary: %w", err)
	}
	m := summaryStatePattern.FindSubmatch(data)
	if m == nil {
		return "", nil
	}
	return strings.TrimSpace(string(m[1])), nil
}

// SummaryReportsSuccess reads the summary and checks the state against the
// success token. The observed state is returned for reporting.
func SummaryReportsSuccess(path string) (bool, string, error) {
	state, err := SummaryState(path)
	if err != nil {
		return false, "", err
	}
	return state == SummarySuccessToken, state, nil
}
