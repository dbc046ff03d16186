package models

// Status is always derived from the quantities; nothing assigns it directly.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusFulfilled Status = "FULFILLED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusFulfilled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// DeriveStatus is the only transition rule.
func DeriveStatus(fulfilled, requested int) Status {
	switch {
	case fulfilled <= 0:
		return StatusPending
	case fulfilled >= requested:
		return StatusFulfilled
	default:
		return StatusPartial
	}
}
