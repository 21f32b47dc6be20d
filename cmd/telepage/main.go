package main

import (
	"fmt"
	"os"

	"github.com/bitter-oolong/telepage/pkg/app"
)

// main is the entry point of the Telegram bot.
func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
