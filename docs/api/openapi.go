// Package api embeds the generated OpenAPI specification for the sandboxd
// HTTP API, served by internal/docs at /api/docs/openapi.yaml.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
