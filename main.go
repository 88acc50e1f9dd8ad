package main

import "github.com/bastionlabs/bastion/cmd"

func main() {
	cmd.Execute()
}
