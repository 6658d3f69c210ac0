package main

import "github.com/rpattn/changetrack/internal/cli"

func main() {
	cli.Execute()
}
