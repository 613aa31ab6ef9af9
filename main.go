package main

import "github.com/nextlevelbuilder/botgate/cmd"

func main() {
	cmd.Execute()
}
