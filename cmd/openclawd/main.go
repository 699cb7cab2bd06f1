// Openclawd is an AI gateway daemon: a single-process, non-blocking HTTP
// server that proxies chat requests to upstream AI providers (Anthropic,
// OpenAI) over their streaming SSE APIs.
//
// Usage:
//
//	# Start with defaults (127.0.0.1:18789)
//	openclawd run
//
//	# Start with a configuration file
//	openclawd run --config /etc/openclaw/gateway.yaml
//
//	# Override the listen address
//	openclawd run --bind 0.0.0.0 --port 8080
//
//	# Show version information
//	openclawd version
package main

func main() {
	Execute()
}
