package main

import (
	"os"

	"github.com/autopatch-dev/autopatch/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
