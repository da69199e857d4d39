package main

import "github.com/chassisworks/kvmip/cmd/kvmip/commands"

func main() {
	commands.Execute()
}
