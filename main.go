package main

import "botfleet/cmd"

func main() {
	cmd.Execute()
}
