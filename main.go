package main

import "github.com/quietloop/fennec/cmd"

func main() {
	cmd.Execute()
}
