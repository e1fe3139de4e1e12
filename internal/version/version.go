package version

import (
	"fmt"
	"runtime"
)

// Version is the application version. Can be overridden at build time via:
//
//	go build -ldflags "-X winsbygroup.com/licserver/internal/version.Version=1.2.3"
var Version = "1.0"

// Commit is the source revision, set the same way as Version.
var Commit = "dev"

// Banner prints identifying information about the server.
func Banner() string {
	return fmt.Sprintf("%s\nLicserver (v%s, %s, %s)\n", product(), Version, Commit, runtime.Version())
}

func product() string {
	// http://patorjk.com/software/taag/#p=display&f=Standard&t=Licserver
	const s = `
  _     _
 | |   (_) ___ ___  ___ _ ____   _____ _ __
 | |   | |/ __/ __|/ _ \ '__\ \ / / _ \ '__|
 | |___| | (__\__ \  __/ |   \ V /  __/ |
 |_____|_|\___|___/\___|_|    \_/ \___|_|
`
	return s
}
