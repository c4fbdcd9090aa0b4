package main

import "possync/cmd/possync/cmd"

func main() {
	cmd.Execute()
}
