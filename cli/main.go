package main

import "southwinds.dev/keycache/cli/cmd"

func main() {
	cmd.Execute()
}
