// chatd serves an OpenAI-compatible chat completion API in front of a
// llama.cpp engine.
//
// Usage:
//
//	# Serve against a running llama-server
//	chatd serve --engine-url http://127.0.0.1:8080 --engine-arg model=demo-7b --engine-arg response-role=assistant
//
//	# Spawn llama-server from a config file
//	chatd serve --config chatd.yaml --engine-mode spawn
//
//	# Show the engine flags a config renders to
//	chatd args --config chatd.yaml
package main

func main() {
	Execute()
}
