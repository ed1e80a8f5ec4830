// Command infragate runs the InfraGate mediation gateway.
package main

import "github.com/Sentinel-Gate/infragate/cmd/infragate/cmd"

func main() {
	cmd.Execute()
}
