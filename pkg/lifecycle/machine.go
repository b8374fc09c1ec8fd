// Package lifecycle implements the status machine shared by datasets and
// models, and the transaction hook used to defer external dispatch until
// a commit is durable.
//
// Both entity kinds follow the same pattern: a user trigger moves the
// entity into an in-progress status inside a transaction, an external job
// is dispatched after commit, and a later callback moves the entity into
// a terminal status. The machine is a table of legal predecessors per
// target status, instantiated once per entity kind.
package lifecycle

import "fmt"

// Status is an entity lifecycle state. The concrete values are declared
// by each entity package.
type Status int

// Machine validates transitions against a predecessor table.
type Machine struct {
	name         string
	predecessors map[Status][]Status
	terminal     map[Status]bool
	labels       map[Status]string
}

// NewMachine builds a machine. predecessors maps each target status to
// the statuses it may legally be entered from; terminal lists statuses
// that end an in-progress period.
func NewMachine(name string, predecessors map[Status][]Status, terminal []Status, labels map[Status]string) *Machine {
	t := make(map[Status]bool, len(terminal))
	for _, s := range terminal {
		t[s] = true
	}
	return &Machine{
		name:         name,
		predecessors: predecessors,
		terminal:     t,
		labels:       labels,
	}
}

// CanEnter reports whether target may be entered from current.
func (m *Machine) CanEnter(current, target Status) bool {
	for _, from := range m.predecessors[target] {
		if from == current {
			return true
		}
	}
	return false
}

// Predecessors returns the legal predecessor set for target. The slice is
// shared; callers must not mutate it.
func (m *Machine) Predecessors(target Status) []Status {
	return m.predecessors[target]
}

// Terminal reports whether s is a terminal status, i.e. one that no
// callback will move the entity out of without a new user trigger.
func (m *Machine) Terminal(s Status) bool {
	return m.terminal[s]
}

// Known reports whether s is a status this machine was built with.
func (m *Machine) Known(s Status) bool {
	if _, ok := m.labels[s]; ok {
		return true
	}
	_, ok := m.predecessors[s]
	return ok
}

// Label returns a human-readable name for s, for logs and error messages.
func (m *Machine) Label(s Status) string {
	if l, ok := m.labels[s]; ok {
		return l
	}
	return fmt.Sprintf("%s-status-%d", m.name, s)
}
