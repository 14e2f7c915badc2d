package main

import "github.com/brensch/weatherduck/cmd"

func main() {
	cmd.Execute()
}
