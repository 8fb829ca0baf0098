package main

import "Fenrir/pkg/cli"

func main() {
	cli.Execute()
}
