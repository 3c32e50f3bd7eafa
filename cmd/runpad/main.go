package main

import "github.com/itsmostafa/runpad/cmd"

func main() {
	cmd.Execute()
}
