package ui

import (
	"io"

	"github.com/bamsammich/segbkp/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line for a run that exits with
	// exitCode.
	Summary(exitCode int) string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     stats.ReadTicker
	// IsTTY enables periodic progress lines on ErrWriter.
	IsTTY bool
	Quiet bool
	// Width clips progress lines to the terminal (0 = no clipping).
	Width int
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // presenter chosen by config
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return quietPresenter{}
	}
	return &plainPresenter{
		w:        cfg.Writer,
		errW:     cfg.ErrWriter,
		stats:    cfg.Stats,
		progress: cfg.IsTTY,
		width:    cfg.Width,
	}
}
