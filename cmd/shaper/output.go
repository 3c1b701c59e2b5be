package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// outputJSON marshals data to stdout as indented JSON.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputJSONError writes a JSON error object to stderr and exits.
func outputJSONError(message string, code int) {
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
	os.Exit(1)
}

// fail reports a fatal error in the active output mode and exits.
func fail(err error) {
	if jsonOutput {
		outputJSONError(err.Error(), 1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
