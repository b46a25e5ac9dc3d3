// Command imgcast broadcasts disk images to a group of hosts with udpcast.
package main

import "github.com/oshokin/imgcast/cmd/imgcast/cmd"

func main() {
	cmd.Execute()
}
