package main

import "github.com/mabhi256/gctune/cmd"

func main() {
	cmd.Execute()
}
