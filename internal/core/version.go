package core

// Version is the release version, overridden at build time with
// -ldflags "-X firestige.xyz/sqelf/internal/core.Version=...".
var Version = "0.1.0"
