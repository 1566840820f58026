package main

import (
	"github.com/mengelbart/framegrab/cmdmain"

	_ "github.com/mengelbart/framegrab/subcmd"
)

func main() {
	cmdmain.Main()
}
