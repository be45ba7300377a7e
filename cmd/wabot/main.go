// Command wabot is the WhatsApp userbot.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/wabot/cmd/wabot/commands"
)

var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
