package main

import "github.com/fapiaokit/invoice-collector/cmd"

func main() {
	cmd.Execute()
}
