package main

import "github.com/leadpulse/engine/cmd"

func main() {
	cmd.Execute()
}
