package main

import "github.com/dhcgn/oft-to-eml/cmd"

func main() {
	cmd.Execute()
}
