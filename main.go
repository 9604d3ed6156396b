package main

import "github.com/appledex/appledex/cmd"

func main() {
	cmd.Execute()
}
