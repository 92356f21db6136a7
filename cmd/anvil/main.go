package main

import "github.com/anvilhost/anvil/pkg/cmd/anvil"

func main() {
	anvil.Execute()
}
