package pos

// SnapshotResultLimit bounds how many results are described to planners.
const SnapshotResultLimit = 12

// Snapshot is the planner-facing view of the current state.
type Snapshot struct {
	Mode          Mode             `json:"mode"`
	Customer      string           `json:"customer"`
	Totals        Totals           `json:"totals"`
	Cart          []CartLine       `json:"cart"`
	Results       []SnapshotResult `json:"results"`
	SelectedIndex *int             `json:"selected_index"`
	QtyHint       int              `json:"qty_hint"`
	Payments      []SnapshotPay    `json:"payments,omitempty"`
}

// SnapshotResult is one numbered result as described to planners.
type SnapshotResult struct {
	Index int    `json:"index"`
	Code  string `json:"item_code"`
	Name  string `json:"item_name"`
}

// SnapshotPay is the selected payment method.
type SnapshotPay struct {
	Method string `json:"mop"`
}

// Snapshot captures a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Mode:     s.mode,
		Customer: s.customer,
		Totals:   s.totalsLocked(),
		Cart:     append([]CartLine{}, s.cart...),
		Results:  make([]SnapshotResult, 0, min(len(s.results), SnapshotResultLimit)),
		QtyHint:  s.qty,
	}
	for i, item := range s.results {
		if i >= SnapshotResultLimit {
			break
		}
		snap.Results = append(snap.Results, SnapshotResult{Index: item.Index, Code: item.Code, Name: item.Name})
	}
	if s.selected > 0 {
		sel := s.selected
		snap.SelectedIndex = &sel
	}
	if s.payment != "" {
		snap.Payments = []SnapshotPay{{Method: s.payment}}
	}
	return snap
}
