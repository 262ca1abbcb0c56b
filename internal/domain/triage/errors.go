package triage

import "errors"

var (
	// ErrInvalidCapacity indicates a non-positive or non-integer capacity.
	ErrInvalidCapacity = errors.New("capacity must be a positive integer")

	// ErrUnknownDepartment indicates a department name outside the registry.
	ErrUnknownDepartment = errors.New("unknown department")

	// ErrValidation indicates a malformed admission request.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicatePatient indicates the patient is already admitted in the
	// current session.
	ErrDuplicatePatient = errors.New("patient already admitted in this session")

	// ErrClassifierUnavailable indicates the risk classifier could not
	// produce a result. No triage state is mutated when it is returned.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)
