package main

// main is the entry point for the stack-ingest application.
// Build-time variables are declared in root.go and set via -ldflags.
func main() {
	Execute()
}
