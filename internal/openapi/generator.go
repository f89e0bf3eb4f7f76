package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Security scheme names.
const (
	SchemeAdmin  = "bearerAuth"
	SchemeSearch = "searchSecret"
)

// Generate builds the OpenAPI 3.1 document for the key API served at
// baseURL.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keydrop API",
			Description: "Issue, validate and manage short-lived single-use access keys.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		SchemeAdmin: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Admin token issued by `keydrop admin token`.",
			},
		},
		SchemeSearch: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: "X-Search-Secret",
			},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	addKeyPaths(doc)
	addValidationPaths(doc)
	addHealthPaths(doc)

	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/keys", &openapi3.PathItem{
		Post: withBody(
			operation("keys", "createKey", "Issue a key", nil,
				newResponses("201", "The issued key", ref(schemaKey))),
			ref(schemaCreateRequest), false,
		),
		Get: secured(operation("keys", "listKeys", "List all keys",
			openapi3.Parameters{queryParam("filter", "Either \"all\" (default) or \"live\".", enumOf("", []interface{}{"all", "live"}))},
			newResponses("200", "Keys, most recent first", ref(schemaKeyList))), SchemeAdmin),
		Delete: secured(operation("keys", "clearKeys", "Delete every key", nil,
			newResponses("200", "All keys removed", object(openapi3.Schemas{
				"success": typed("boolean", "", ""),
				"message": typed("string", "", ""),
			}))), SchemeAdmin),
	})

	doc.Paths.Set("/api/keys/live", &openapi3.PathItem{
		Get: operation("keys", "liveKeys", "List live keys with summary metadata", nil,
			newResponses("200", "Live keys", ref(schemaSnapshot))),
	})

	doc.Paths.Set("/api/keys/check/{key}", &openapi3.PathItem{
		Get: operation("validation", "checkKey", "Classify a key without consuming it",
			openapi3.Parameters{pathParam("key", "The token to check.")},
			newResponses("200", "Classification", ref(schemaValidation))),
	})

	doc.Paths.Set("/api/keys/search", &openapi3.PathItem{
		Post: secured(withBody(
			operation("keys", "searchKeys", "Search live keys by name or token", nil,
				newResponses("200", "Matching keys, most recent first", ref(schemaKeyList))),
			object(openapi3.Schemas{"query": typed("string", "", "Case-insensitive substring.")}, "query"), true,
		), SchemeSearch),
	})

	doc.Paths.Set("/api/keys/cleanup", &openapi3.PathItem{
		Post: secured(operation("keys", "cleanupKeys", "Delete expired keys", nil,
			newResponses("200", "Number of keys removed", object(openapi3.Schemas{
				"success": typed("boolean", "", ""),
				"removed": typed("integer", "int64", ""),
			}))), SchemeAdmin),
	})

	doc.Paths.Set("/api/generate", &openapi3.PathItem{
		Post: withBody(
			operation("keys", "generateKey", "Issue a default-format key for scripts", nil,
				newResponses("200", "The issued key", ref(schemaGenerated))),
			object(openapi3.Schemas{"name": typed("string", "", "Defaults to \"Generated Key\".")}), false,
		),
	})
}

func addValidationPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/validate/{key}", &openapi3.PathItem{
		Get: operation("validation", "validateKey", "Validate and consume a key",
			openapi3.Parameters{pathParam("key", "The token to redeem.")},
			newResponses("200", "Classification after consumption", ref(schemaValidation))),
	})

	doc.Paths.Set("/api/validate", &openapi3.PathItem{
		Post: withBody(
			operation("validation", "validateKeyBody", "Validate and consume a key sent in the body", nil,
				newResponses("200", "Classification after consumption", ref(schemaValidation))),
			object(openapi3.Schemas{"key": typed("string", "", "The token to redeem.")}, "key"), true,
		),
	})

	doc.Paths.Set("/validate", &openapi3.PathItem{
		Get: operation("validation", "validateKeyQuery", "Validate and consume a key named in the query",
			openapi3.Parameters{queryParam("key", "The token to redeem.", typed("string", "", ""))},
			newResponses("200", "Classification after consumption", ref(schemaValidation))),
	})
}

func addHealthPaths(doc *openapi3.T) {
	status := object(openapi3.Schemas{"status": typed("string", "", "")})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: operation("health", "healthz", "Liveness probe", nil, newResponses("200", "Process is up", status)),
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: operation("health", "readyz", "Readiness probe", nil, newResponses("200", "Key store is reachable", status)),
	})
}

// ─── Operation Builders ─────────────────────────────────────────────────────

func operation(tag, id, summary string, params openapi3.Parameters, responses *openapi3.Responses) *openapi3.Operation {
	return &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		OperationID: id,
		Parameters:  params,
		Responses:   responses,
	}
}

func withBody(op *openapi3.Operation, schema *openapi3.SchemaRef, required bool) *openapi3.Operation {
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: required,
			Content:  openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
	return op
}

func secured(op *openapi3.Operation, scheme string) *openapi3.Operation {
	req := openapi3.SecurityRequirements{{scheme: {}}}
	op.Security = &req

	denied := "Missing or invalid credentials"
	op.Responses.Set("401", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &denied,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(schemaError)),
		},
	})
	return op
}

func pathParam(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          openapi3.ParameterInPath,
			Description: desc,
			Required:    true,
			Schema:      typed("string", "", ""),
		},
	}
}

func queryParam(name, desc string, schema *openapi3.SchemaRef) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          openapi3.ParameterInQuery,
			Description: desc,
			Schema:      schema,
		},
	}
}

// newResponses builds a Responses map with a success response and standard
// error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref(schemaError)

	badReqDesc := "Bad request"
	responses.Set("400", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &badReqDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	rateDesc := "Rate limit exceeded"
	responses.Set("429", &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &rateDesc},
	})

	serverErrDesc := "Internal server error"
	responses.Set("500", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &serverErrDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	unavailableDesc := "Key store unavailable"
	responses.Set("503", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &unavailableDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	return responses
}
