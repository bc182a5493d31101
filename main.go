package main

import "github.com/example/faceid/cmd"

func main() {
	cmd.Execute()
}
