package main

import "github.com/davidroman0O/iflowpipe/cmd"

func main() {
	cmd.Execute()
}
