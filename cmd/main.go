package main

import "github.com/canopy-network/accord/cmd/cli"

func main() {
	cli.Execute()
}
