package lifecycle

import (
	"context"

	"gorm.io/gorm"
)

// Hooks collects actions to run strictly after the enclosing transaction
// has committed. Dispatching an external job before commit risks the
// callback racing the triggering row, or work starting against a row a
// rollback then removes; registering the dispatch here closes both holes.
type Hooks struct {
	fns []func()
}

// AfterCommit registers fn to run once the transaction commits. If the
// transaction rolls back, fn never runs.
func (h *Hooks) AfterCommit(fn func()) {
	h.fns = append(h.fns, fn)
}

func (h *Hooks) run() {
	for _, fn := range h.fns {
		fn()
	}
}

// RunInTx executes fn inside a database transaction and, only if the
// commit succeeds, runs the hooks fn registered. Hooks run synchronously
// on the calling goroutine so a dispatch failure can be reflected in the
// same request; a hook that must not block is free to start its own
// goroutine.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB, hooks *Hooks) error) error {
	hooks := &Hooks{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, hooks)
	})
	if err != nil {
		return err
	}
	hooks.run()
	return nil
}
