// Command goxeld runs the headless voxel editing daemon.
package main

import "github.com/goxel/goxeld/cmd/goxeld/cmd"

func main() {
	cmd.Execute()
}
