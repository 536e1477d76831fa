// Package defaults provides the embedded default configuration written
// by the hodor init subcommand.
package defaults

import _ "embed"

//go:generate cp ../../examples/hodor.example.yaml .

//go:embed hodor.example.yaml
var ConfigYAML []byte
