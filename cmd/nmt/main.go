package main

import "github.com/fumitoshi0524/ixeoriNMT/cmd/nmt/cmd"

func main() {
	cmd.Execute()
}
