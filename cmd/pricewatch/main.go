package main

import "price-tier-alerts/internal/cli"

func main() {
	cli.Execute()
}
