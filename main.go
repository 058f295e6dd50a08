package main

import (
	"github.com/sidkik/syncwatch/cmd"
	"github.com/sidkik/syncwatch/pkg/report"
)

func main() {
	defer report.HandlePanic()
	cmd.Execute()
}
