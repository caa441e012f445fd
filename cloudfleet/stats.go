package cloudfleet

import "bitbucket.org/mmdatafocus/cloudfleet_sync/models"

// Outcome is the result of reconciling one top-level record.
type Outcome int

const (
	OutcomeError Outcome = iota
	OutcomeNew
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "error"
	}
}

// Stats counts outcomes for one domain. It is a value: Add returns a new Stats.
type Stats struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

func (s Stats) Add(o Outcome) Stats {
	switch o {
	case OutcomeNew:
		s.New++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	default:
		s.Errors++
	}
	return s
}

func (s Stats) Merge(o Stats) Stats {
	return Stats{
		New:       s.New + o.New,
		Updated:   s.Updated + o.Updated,
		Unchanged: s.Unchanged + o.Unchanged,
		Errors:    s.Errors + o.Errors,
	}
}

// Fold reduces a sequence of outcomes into Stats.
func Fold(outcomes []Outcome) Stats {
	var s Stats
	for _, o := range outcomes {
		s = s.Add(o)
	}
	return s
}

// RunStats holds the per-domain totals of one run.
type RunStats struct {
	Orders     Stats
	Issues     Stats
	Checklists Stats
}

func (r RunStats) With(d Domain, s Stats) RunStats {
	switch d {
	case DomainOrders:
		r.Orders = s
	case DomainIssues:
		r.Issues = s
	case DomainChecklists:
		r.Checklists = s
	}
	return r
}

func (r RunStats) Total() Stats {
	return r.Orders.Merge(r.Issues).Merge(r.Checklists)
}

func (r RunStats) Counts() models.SyncRunCounts {
	total := r.Total()
	return models.SyncRunCounts{
		NewOrders:         r.Orders.New,
		UpdatedOrders:     r.Orders.Updated,
		NewIssues:         r.Issues.New,
		UpdatedIssues:     r.Issues.Updated,
		NewChecklists:     r.Checklists.New,
		UpdatedChecklists: r.Checklists.Updated,
		Unchanged:         total.Unchanged,
		Errors:            total.Errors,
	}
}

// Summary is the JSON body returned by the sync endpoint.
type Summary struct {
	Message           string `json:"message"`
	RunId             uint   `json:"runId,omitempty"`
	NewOrders         int    `json:"newOrders"`
	UpdatedOrders     int    `json:"updatedOrders"`
	NewIssues         int    `json:"newIssues"`
	UpdatedIssues     int    `json:"updatedIssues"`
	NewChecklists     int    `json:"newChecklists"`
	UpdatedChecklists int    `json:"updatedChecklists"`
}

func (r RunStats) Summary(runId uint) Summary {
	return Summary{
		Message:           "Sync completed",
		RunId:             runId,
		NewOrders:         r.Orders.New,
		UpdatedOrders:     r.Orders.Updated,
		NewIssues:         r.Issues.New,
		UpdatedIssues:     r.Issues.Updated,
		NewChecklists:     r.Checklists.New,
		UpdatedChecklists: r.Checklists.Updated,
	}
}
