package main

import "github.com/qkv-io/qkv/cmd"

func main() {
	cmd.Execute()
}
