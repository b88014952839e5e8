package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
)

// barObserver renders espflash.Observer events to a terminal progress
// bar: log lines print as-is, and progress updates move the bar and
// set its description to the current milestone.
type barObserver struct {
	bar *progressbar.ProgressBar
}

func newBarObserver() *barObserver {
	return &barObserver{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetDescription("flashing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

func (o *barObserver) OnLog(message string) {
	fmt.Println(message)
}

func (o *barObserver) OnProgress(percent int, message string) {
	o.bar.Describe(message)
	_ = o.bar.Set(percent)
}
