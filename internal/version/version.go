package version

// Version is the build version shared by the server and the telecare CLI.
// It can be overridden at build time using:
//   go build -ldflags="-X 'github.com/docease/telecare/internal/version.Version=v1.0.0'"
var Version = "dev"
