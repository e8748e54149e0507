package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/state"
)

// wireResult mirrors Result with pointer fields so that missing keys can be
// told apart from zero values.
type wireResult struct {
	TicketID      *string          `json:"ticket_id"`
	Outcome       *string          `json:"outcome"`
	FinalCommit   json.RawMessage  `json:"final_commit"`
	ModifiedFiles *[]string        `json:"files_modified"`
	TestStatus    *string          `json:"test_status"`
	Criteria      *[]wireCriterion `json:"acceptance_criteria"`
}

type wireCriterion struct {
	Criterion *string `json:"criterion"`
	Met       *bool   `json:"met"`
}

// ParseResult strictly decodes a result document: every field must be
// present, no unknown field is allowed and enums must hold known values.
func ParseResult(data []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireResult
	if err := dec.Decode(&w); err != nil {
		return nil, malformed("decode result: %v", err)
	}
	if dec.More() {
		return nil, malformed("trailing data after result object")
	}

	switch {
	case w.TicketID == nil || *w.TicketID == "":
		return nil, malformed("missing ticket_id")
	case w.Outcome == nil:
		return nil, malformed("missing outcome")
	case w.FinalCommit == nil:
		return nil, malformed("missing final_commit")
	case w.ModifiedFiles == nil:
		return nil, malformed("missing files_modified")
	case w.TestStatus == nil:
		return nil, malformed("missing test_status")
	case w.Criteria == nil:
		return nil, malformed("missing acceptance_criteria")
	}

	res := &Result{
		TicketID:      *w.TicketID,
		Outcome:       Outcome(*w.Outcome),
		ModifiedFiles: *w.ModifiedFiles,
		TestStatus:    state.TestStatus(*w.TestStatus),
		Criteria:      make([]state.Criterion, 0, len(*w.Criteria)),
	}
	if res.Outcome != OutcomeSuccess && res.Outcome != OutcomeFailure {
		return nil, malformed("outcome %q is not success or failure", *w.Outcome)
	}
	if !res.TestStatus.Valid() {
		return nil, malformed("test_status %q is not passing, failing or skipped", *w.TestStatus)
	}
	if string(w.FinalCommit) != "null" {
		var sha string
		if err := json.Unmarshal(w.FinalCommit, &sha); err != nil {
			return nil, malformed("final_commit must be a string or null")
		}
		if strings.TrimSpace(sha) == "" {
			return nil, malformed("final_commit is empty")
		}
		res.FinalCommit = &sha
	}
	for i, c := range *w.Criteria {
		if c.Criterion == nil || c.Met == nil {
			return nil, malformed("acceptance_criteria[%d] needs criterion and met", i)
		}
		res.Criteria = append(res.Criteria, state.Criterion{Criterion: *c.Criterion, Met: *c.Met})
	}
	return res, nil
}

// ExtractResult finds the result object in builder output. The whole output
// is tried first, then each line that starts with '{' from the last one up.
func ExtractResult(output []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, malformed("builder produced no output")
	}
	res, err := ParseResult(trimmed)
	if err == nil {
		return res, nil
	}

	lines := bytes.Split(trimmed, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if r, lineErr := ParseResult(line); lineErr == nil {
			return r, nil
		}
	}
	return nil, err
}

func malformed(format string, args ...any) error {
	return errors.NewBuilderError(errors.BuilderMalformed, fmt.Sprintf(format, args...), nil)
}
