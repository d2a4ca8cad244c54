// Command goclaw is the gateway process entrypoint: it loads config,
// wires the store/agent/channels/scheduler/reflector together, and blocks
// until shutdown.
package main

import "github.com/nextlevelbuilder/goclaw/cmd"

func main() {
	cmd.Execute()
}
