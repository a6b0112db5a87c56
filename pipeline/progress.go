package pipeline

// Action is the outcome category of one processed row.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Outcome is the result of processing one row.
type Outcome struct {
	Action   Action
	Slug     string
	GeoLevel GeoLevel
	Err      error
}

// RowError is one entry of a job's error log. Row is the zero-based index
// of the input row.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"error"`
}

// Progress accumulates per-row outcomes for a job.
type Progress struct {
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Errors    []RowError `json:"errors,omitempty"`
}

// Record folds one outcome into p.
func (p *Progress) Record(row int, o Outcome) {
	p.Processed++
	switch o.Action {
	case ActionCreated:
		p.Created++
	case ActionUpdated:
		p.Updated++
	case ActionSkipped:
		p.Skipped++
	default:
		p.Failed++
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		p.Errors = append(p.Errors, RowError{Row: row, Message: msg})
	}
}

// Balanced reports whether the outcome counters add up to Processed.
func (p Progress) Balanced() bool {
	return p.Created+p.Updated+p.Skipped+p.Failed == p.Processed
}

// clone returns a copy whose error log does not alias p's.
func (p Progress) clone() Progress {
	out := p
	if p.Errors != nil {
		out.Errors = append([]RowError(nil), p.Errors...)
	}
	return out
}
