// Command extrecon is the browser extension reconnaissance toolkit.
package main

import (
	"context"
	"os"

	"github.com/extrecon/extrecon/internal/cmd"
)

// Populated at link time via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute(context.Background()))
}
