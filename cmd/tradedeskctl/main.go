package main

import (
	"os"

	"github.com/alanyoungcy/tradedesk/cmd/tradedeskctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
