package swagger

import _ "embed"

// OpenAPI is the telemetry API document served at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
