// Command multiplex runs several processes concurrently with
// dependency-ordered startup and a single structured output stream.
package main

import "github.com/oskarlin/multiplex/cmd"

func main() {
	cmd.Execute()
}
