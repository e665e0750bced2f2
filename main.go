package main

import "github.com/chapool/custody-engine/cmd"

func main() {
	cmd.Execute()
}
