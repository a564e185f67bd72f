package config

// DefaultAddr is the default listen address for the remote-control server.
// Listening on all interfaces lets phones on the LAN reach the host.
const DefaultAddr = "0.0.0.0:8765"
