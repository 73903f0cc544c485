package main

import "github.com/naka-gawa/pr-metrics/cmd"

func main() {
	cmd.Execute()
}
