package model

// Status is the terminal outcome of one synchronization run
type Status int

const (
	StatusNoChanges Status = iota
	StatusCreated
	StatusUpdated
	StatusInvalidData
	StatusUnhandledException
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusNoChanges:
		return "NO_CHANGES"
	case StatusCreated:
		return "CREATED"
	case StatusUpdated:
		return "UPDATED"
	case StatusInvalidData:
		return "INVALID_DATA"
	case StatusUnhandledException:
		return "UNHANDLED_EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome reported to the caller for one dataset pair
type Result struct {
	Status  Status
	Message string
}
