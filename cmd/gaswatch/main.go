package main

import "github.com/vietddude/gaswatch/internal/cli"

func main() {
	cli.Execute()
}
