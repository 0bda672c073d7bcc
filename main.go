package main

import "github.com/toolify/toolify/cmd"

func main() {
	cmd.Execute()
}
