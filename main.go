package main

import "github.com/harmonyhub/harmony/cmd"

func main() {
	cmd.Execute()
}
