package main

import (
	"QueueFM/cmd"
)

func main() {
	cmd.Execute()
}
