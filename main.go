package main

import "github.com/takopi-dev/takopi/cmd"

func main() {
	cmd.Execute()
}
