package main

import (
	"offset-rewards/internal/cli"
)

func main() {
	cli.Execute()
}
