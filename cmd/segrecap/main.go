package main

import "github.com/forPelevin/segrecap/internal/cli"

func main() {
	cli.Main()
}
