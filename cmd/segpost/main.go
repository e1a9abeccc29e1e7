package main

import (
	"github.com/MeKo-Tech/segpost/cmd/segpost/cmd"
)

func main() {
	cmd.Execute()
}
