package triage

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultCapacities is the built-in department table used when no stored
// configuration exists.
func DefaultCapacities() map[string]int {
	return map[string]int{
		"Cardiology":         10,
		"Pulmonology":        12,
		"Emergency":          15,
		"Neurology":          8,
		"General Surgery":    10,
		"General Medicine":   20,
		"Orthopedics":        8,
		"ENT":                6,
		"Dermatology":        5,
		"Gastroenterology":   7,
		"Vascular Surgery":   5,
		"Infectious Disease": 8,
	}
}

// Registry maps department names to admission capacity. The department set
// is fixed at construction; only capacities change afterwards.
//
// Registry is not safe for concurrent use on its own. The Engine guards it.
type Registry struct {
	capacity map[string]int
	names    []string
}

// NewRegistry builds a registry from the given table. Every capacity must be
// positive and the table must not be empty.
func NewRegistry(capacities map[string]int) (*Registry, error) {
	if len(capacities) == 0 {
		return nil, fmt.Errorf("%w: no departments configured", ErrValidation)
	}
	r := &Registry{capacity: make(map[string]int, len(capacities))}
	for name, c := range capacities {
		if name == "" {
			return nil, fmt.Errorf("%w: empty department name", ErrValidation)
		}
		if c <= 0 {
			return nil, fmt.Errorf("%w: %s has capacity %d", ErrInvalidCapacity, name, c)
		}
		r.capacity[name] = c
	}
	r.names = slices.Sorted(maps.Keys(r.capacity))
	return r, nil
}

// Capacity returns the configured capacity for department.
func (r *Registry) Capacity(department string) (int, error) {
	c, ok := r.capacity[department]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDepartment, department)
	}
	return c, nil
}

// Has reports whether department is known.
func (r *Registry) Has(department string) bool {
	_, ok := r.capacity[department]
	return ok
}

// SetCapacity replaces the capacity of an existing department.
func (r *Registry) SetCapacity(department string, capacity int) (CapacityChange, error) {
	if capacity <= 0 {
		return CapacityChange{}, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	old, ok := r.capacity[department]
	if !ok {
		return CapacityChange{}, fmt.Errorf("%w: %q", ErrUnknownDepartment, department)
	}
	r.capacity[department] = capacity
	return CapacityChange{Department: department, OldCapacity: old, NewCapacity: capacity}, nil
}

// Capacities returns a copy of the full table.
func (r *Registry) Capacities() map[string]int {
	return maps.Clone(r.capacity)
}

// Departments returns the department names in sorted order. The slice is
// shared; callers must not modify it.
func (r *Registry) Departments() []string {
	return r.names
}
