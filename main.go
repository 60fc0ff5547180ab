package main

import "PPSignal/cmd"

func main() {
	cmd.Execute()
}
