package main

import "github.com/kozaktomas/variance-tracker/cmd"

func main() {
	cmd.Execute()
}
