package main

import "github.com/mjoubert/ramcd/internal/cli"

func main() {
	cli.Execute()
}
