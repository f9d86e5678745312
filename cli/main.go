package main

import "southwinds.dev/opvault/cli/cmd"

func main() {
	cmd.Execute()
}
