package main

import "esicmap/internal/cli"

func main() {
	cli.Execute()
}
