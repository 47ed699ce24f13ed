package version

// Version is the current version of meshcall.
// Override at build time with:
//   go build -ldflags="-X 'github.com/BioHazard786/meshcall/internal/version.Version=v1.0.0'"
var Version = "dev"
