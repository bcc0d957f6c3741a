/*
Discrete-event simulator for receiver-driven credit transport
*/
package main

import (
	"github.com/dalehuangzihan/SIRD-Simulator-sub001/cmd/xpass-sim/commands"
)

func main() {
	commands.Execute()
}
