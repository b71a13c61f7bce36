package main

import (
	"github.com/mchmarny/sctl/pkg/cli"
)

func main() {
	cli.Execute()
}
