package main

import "github.com/takato23/sparkrelay/cmd"

func main() {
	cmd.Execute()
}
