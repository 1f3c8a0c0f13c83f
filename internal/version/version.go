package version

// Version of couchctl, set at build time with
// -ldflags "-X github.com/patrickjuchli/couch/v2/internal/version.Version=..."
var Version = "2.0.0-dev"
