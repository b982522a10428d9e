package main

import "github.com/taku247/omg-tool/cmd"

func main() {
	cmd.Execute()
}
