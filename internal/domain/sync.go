package domain

import "time"

type AccountState string

const (
	StateStart         AccountState = "START"
	StateTokenAcquired AccountState = "TOKEN_ACQUIRED"
	StatePageFetching  AccountState = "PAGE_FETCHING"
	StateDone          AccountState = "DONE"
	StateAccountFailed AccountState = "ACCOUNT_FAILED"
	StateCanceled      AccountState = "CANCELED"
)

// ReconcileResult is what the reconciliation engine reports for one batch.
type ReconcileResult struct {
	Inserted int
	Updated  int
	Failed   int
	Failures []FailureEvent
}

// AccountResult holds statistics about one account's pass.
type AccountResult struct {
	AccountID       string         `json:"account_id"`
	State           AccountState   `json:"state"`
	Pages           int            `json:"pages"`
	Fetched         int            `json:"fetched"`
	Inserted        int            `json:"inserted"`
	Updated         int            `json:"updated"`
	Failed          int            `json:"failed"`
	StatusHistogram map[Status]int `json:"status_histogram"`
	Error           string         `json:"error,omitempty"`
}

func NewAccountResult(accountID string) *AccountResult {
	return &AccountResult{
		AccountID:       accountID,
		State:           StateStart,
		StatusHistogram: make(map[Status]int, len(Statuses)),
	}
}

// AddPage folds one fetched and reconciled page into the account totals.
func (r *AccountResult) AddPage(listings []Listing, rec *ReconcileResult) {
	r.Pages++
	r.Fetched += len(listings)
	for _, l := range listings {
		r.StatusHistogram[l.Status]++
	}
	if rec != nil {
		r.Inserted += rec.Inserted
		r.Updated += rec.Updated
		r.Failed += rec.Failed
	}
}

// SyncRunResult holds statistics about one sync run across all of a user's accounts.
type SyncRunResult struct {
	RunID      string          `json:"run_id"`
	UserID     string          `json:"user_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   []AccountResult `json:"accounts"`
	TotalItems int             `json:"total_items"`
	Failures   []FailureEvent  `json:"failures"`
	Canceled   bool            `json:"canceled"`
}

func (r *SyncRunResult) Totals() (fetched, inserted, updated, failed int) {
	for _, a := range r.Accounts {
		fetched += a.Fetched
		inserted += a.Inserted
		updated += a.Updated
		failed += a.Failed
	}
	return fetched, inserted, updated, failed
}

func (r *SyncRunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
