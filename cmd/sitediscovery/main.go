// The sitediscovery binary serves the discovery API or runs one-off
// discoveries from the command line.
package main

import "github.com/JakeFAU/site-discovery/cmd"

func main() {
	cmd.Execute()
}
