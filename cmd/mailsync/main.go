package main

import (
	"context"
	"os"

	"github.com/nhle/mailsync/internal/cmd"
)

func main() {
	if err := cmd.Execute(context.Background(), os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
