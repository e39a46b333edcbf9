// Command forge-deploy provisions web hosts and deploys, re-activates and
// rolls back releases of a web application on them.
//
// Hosts and project settings come from forge-deploy.yaml in the working
// directory, or from $XDG_CONFIG_HOME/forge-deploy/config.yaml.
package main

import (
	"os"

	"github.com/maruel/subcommands"
)

func main() {
	os.Exit(subcommands.Run(newApplication(os.Stdout, os.Stderr), nil))
}
