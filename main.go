package main

import "github.com/pxlsspace/PxlsBot/cmd"

func main() {
	cmd.Execute()
}
