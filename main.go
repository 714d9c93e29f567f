package main

import (
	"github.com/fpbattaglia/datasets/cmd"
	"github.com/fpbattaglia/datasets/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
