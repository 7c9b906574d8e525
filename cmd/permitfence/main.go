package main

import "github.com/yourusername/permitfence/cmd/permitfence/cmd"

func main() {
	cmd.Execute()
}
