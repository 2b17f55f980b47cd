package ui

// quietPresenter drains events. Warnings and errors still reach stderr
// through the logger.
type quietPresenter struct{}

func (quietPresenter) Run(events <-chan Event) error {
	for range events { //nolint:revive // drain
	}
	return nil
}

func (quietPresenter) Summary(int) string { return "" }
