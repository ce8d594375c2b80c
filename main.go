// ABOUTME: Entry point for the playthrough command
// ABOUTME: Hands control to the command line interface
package main

import "github.com/Resonate-Protocol/playthrough/internal/cli"

func main() {
	cli.Execute()
}
