package main

import "github.com/faucetgw/faucetgw/cmd"

func main() {
	cmd.Execute()
}
