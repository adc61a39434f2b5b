package main

import "github.com/MeKo-Tech/imagex/internal/cmd"

func main() {
	cmd.Execute()
}
