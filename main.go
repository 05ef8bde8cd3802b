package main

import "github.com/encodeous/orpl/cmd"

func main() {
	cmd.Execute()
}
