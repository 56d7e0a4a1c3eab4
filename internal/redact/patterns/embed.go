// Package patterns provides the embedded default recognizer definitions.
package patterns

import _ "embed"

//go:embed pii.yaml
var piiYAML []byte

// PIIYAML returns the embedded default PII recognizers.
func PIIYAML() []byte { return piiYAML }
