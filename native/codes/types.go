package codes

import "time"

const (
	// CodeMin and CodeMax bound the 8-digit numeric code space.
	CodeMin = 10_000_000
	CodeMax = 99_999_999
	// CodeSpaceSize is the number of distinct code values available.
	CodeSpaceSize = CodeMax - CodeMin + 1
	// CodeLength is the canonical printed width of a code.
	CodeLength = 8
)

// Record captures one issued code. Records are never mutated after issuance
// except for the Active flag; retirement flips Active to false so a retired
// code stops resolving without erasing history.
type Record struct {
	Identity  string    `json:"identity"`
	Code      string    `json:"code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
