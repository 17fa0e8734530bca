package loyalty

import "time"

// Account tracks the point balance for one (identity, merchant) pair. Points
// never go negative; a debit past zero clamps.
type Account struct {
	Identity    string    `json:"identity"`
	Merchant    string    `json:"merchant"`
	Points      int64     `json:"points"`
	LastUpdated time.Time `json:"lastUpdated"`
}
