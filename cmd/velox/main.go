package main

import "github.com/qzbxw/velox-sub000/internal/cli"

func main() {
	cli.Execute()
}
