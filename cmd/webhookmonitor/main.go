package main

import "webhook-monitor/internal/cli"

func main() {
	cli.Execute()
}
