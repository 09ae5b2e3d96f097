package domain

import "time"

// VTEC significance levels, weakest to strongest.
const (
	SigStatement = "Statement"
	SigAdvisory  = "Advisory"
	SigWatch     = "Watch"
	SigWarning   = "Warning"
)

// Archived VTEC events always report these: the archive records what was
// observed, not live guidance.
const (
	CertaintyObserved = "Observed"
	UrgencyPast       = "Past"
)

// AlertRecord is one archived VTEC flood event as returned by the IEM API.
type AlertRecord struct {
	WFO          string    `json:"wfo"`
	EventID      int       `json:"event_id"`
	Event        string    `json:"event"`        // "<ph_name> <sig_name>", e.g. "Flood Warning"
	Significance string    `json:"significance"` // "Warning", "Watch", "Advisory", "Statement"
	Area         string    `json:"area"`         // "<county> [<state>]", e.g. "Fayette [TX]"
	Issued       time.Time `json:"issued"`
	Certainty    string    `json:"certainty"`
	Urgency      string    `json:"urgency"`
}

// significanceRank orders VTEC significance levels; unknown values rank lowest.
func significanceRank(sig string) int {
	switch sig {
	case SigStatement:
		return 1
	case SigAdvisory:
		return 2
	case SigWatch:
		return 3
	case SigWarning:
		return 4
	default:
		return 0
	}
}

// MeetsSeverity reports whether the alert's significance is at or above min.
func (a AlertRecord) MeetsSeverity(min string) bool {
	return significanceRank(a.Significance) >= significanceRank(min)
}
