package main

import "github.com/khanhnv2901/vela/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
