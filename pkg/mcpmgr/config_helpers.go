package mcpmgr

import "strings"

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		return TransportHTTP
	default:
		return ""
	}
}

// Describe renders where a backend lives: the command line for stdio
// backends, the endpoint for HTTP ones. Environment values and headers are
// never included since they commonly carry credentials.
func Describe(cfg ServerConfig) string {
	if isNilConfig(cfg) {
		return ""
	}
	switch c := cfg.(type) {
	case *StdioServerConfig:
		if len(c.Args) == 0 {
			return c.Command
		}
		return c.Command + " " + strings.Join(c.Args, " ")
	case *HTTPServerConfig:
		return c.Endpoint
	default:
		return ""
	}
}
