package main

import "github.com/core-governance/core/cmd"

func main() {
	cmd.Execute()
}
