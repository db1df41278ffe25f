package main

import "github.com/vietddude/aiguard/internal/cli"

func main() {
	cli.Execute()
}
