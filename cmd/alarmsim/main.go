// Command alarmsim exercises the alarm scheduler against the real clock.
package main

import "github.com/netresearch/go-alarm/cmd/alarmsim/cmd"

func main() {
	cmd.Execute()
}
