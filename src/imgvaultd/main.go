package main

import "github.com/q-controller/imgvault/src/imgvaultd/cmd"

func main() {
	cmd.Execute()
}
