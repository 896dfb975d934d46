package main

import "github.com/everping/everping/cmd"

func main() {
	cmd.Execute()
}
