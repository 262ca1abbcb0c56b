package triage

// Balancer picks the department that receives a newly classified patient.
// It reads queue sizes and capacities and must be called with the engine's
// write lock held so that the choice and the insert are atomic.
type Balancer struct {
	registry *Registry
	queues   map[string]*Queue
}

// Assign returns the target department for primary and whether it differs
// from primary. When primary is saturated the least-loaded department wins,
// even if it is saturated itself. Ties go to the first name in sorted order.
func (b *Balancer) Assign(primary string) (string, bool, error) {
	capacity, err := b.registry.Capacity(primary)
	if err != nil {
		return "", false, err
	}
	if b.queues[primary].Len() < capacity {
		return primary, false, nil
	}

	target, least := "", -1
	for _, name := range b.registry.Departments() {
		if n := b.queues[name].Len(); least < 0 || n < least {
			target, least = name, n
		}
	}
	return target, target != primary, nil
}
