package main

import (
	"github.com/DrSkyle/hybridcost/cmd/hybridcost/commands"
)

func main() {
	commands.Execute()
}
