package main

import (
	"github.com/fontsync/fontsync/cmd"
	"github.com/fontsync/fontsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
