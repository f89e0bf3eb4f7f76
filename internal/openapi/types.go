package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Component schema names.
const (
	schemaKey           = "Key"
	schemaKeyData       = "KeyData"
	schemaKeyList       = "KeyList"
	schemaSnapshot      = "KeySnapshot"
	schemaValidation    = "ValidationResult"
	schemaGenerated     = "GeneratedKey"
	schemaCreateRequest = "CreateKeyRequest"
	schemaError         = "ErrorResponse"
)

// keyFormats lists the token formats accepted on issuance.
var keyFormats = []interface{}{"bash", "uuid", "hex", "alphanumeric", "custom"}

// keyStatuses lists every classification outcome.
var keyStatuses = []interface{}{"valid", "expired", "exhausted", "not_found"}

func typed(typ, format, desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{typ},
		Format:      format,
		Description: desc,
	}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func object(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func enumOf(desc string, values []interface{}) *openapi3.SchemaRef {
	s := typed("string", "", desc)
	s.Value.Enum = values
	return s
}

// componentSchemas returns every named schema the key API references.
func componentSchemas() openapi3.Schemas {
	keySchema := object(openapi3.Schemas{
		"id":        typed("integer", "int64", "Store-assigned identifier."),
		"name":      typed("string", "", "Human-readable label."),
		"key":       typed("string", "", "The secret token."),
		"type":      enumOf("Token format.", keyFormats),
		"length":    typed("integer", "int32", "Length of the token in characters."),
		"timestamp": typed("string", "date-time", "Creation time."),
		"expiresAt": typed("string", "date-time", "Expiry time. The key is valid strictly before it."),
		"used":      typed("integer", "int32", "Uses consumed so far."),
		"maxUses":   typed("integer", "int32", "Total uses allowed."),
	}, "id", "name", "key", "type", "timestamp", "expiresAt", "used", "maxUses")
	keySchema.Value.Properties["id"].Value.ReadOnly = true

	keyData := object(openapi3.Schemas{
		"name":          typed("string", "", ""),
		"type":          enumOf("Token format.", keyFormats),
		"created":       typed("string", "date-time", ""),
		"expires":       typed("string", "date-time", ""),
		"usesRemaining": typed("integer", "int32", ""),
	})

	metaProps := openapi3.Schemas{
		"count":   typed("integer", "int64", "Number of keys returned."),
		"took_ms": typed("number", "double", "Server-side time spent, in milliseconds."),
	}

	lastGenerated := typed("string", "date-time", "Creation time of the newest live key.")
	lastGenerated.Value.Nullable = true

	return openapi3.Schemas{
		schemaKey:     keySchema,
		schemaKeyData: keyData,
		schemaKeyList: object(openapi3.Schemas{
			"resource": arrayOf(ref(schemaKey)),
			"meta":     object(metaProps),
		}),
		schemaSnapshot: object(openapi3.Schemas{
			"keys": arrayOf(ref(schemaKey)),
			"metadata": object(openapi3.Schemas{
				"total_keys":     typed("integer", "int32", ""),
				"last_generated": lastGenerated,
			}),
		}),
		schemaValidation: object(openapi3.Schemas{
			"success": typed("boolean", "", "Present on POST /api/validate only."),
			"valid":   typed("boolean", "", ""),
			"message": typed("string", "", ""),
			"status":  enumOf("Classification outcome.", keyStatuses),
			"expired": typed("boolean", "", ""),
			"used":    typed("boolean", "", "True when the key has no uses left."),
			"data":    ref(schemaKeyData),
		}, "valid", "message", "status"),
		schemaGenerated: object(openapi3.Schemas{
			"success": typed("boolean", "", ""),
			"message": typed("string", "", ""),
			"key":     typed("string", "", ""),
			"expires": typed("string", "date-time", ""),
			"name":    typed("string", "", ""),
		}),
		schemaCreateRequest: object(openapi3.Schemas{
			"name":    typed("string", "", "Defaults to \"Unnamed Key\"."),
			"format":  enumOf("Token format. Defaults to the server setting.", keyFormats),
			"length":  typed("integer", "int32", "Token length for hex, alphanumeric and custom formats. Clamped to [8,128]."),
			"maxUses": typed("integer", "int32", "Uses allowed. Defaults to 1, capped at 1000."),
		}),
		schemaError: object(openapi3.Schemas{
			"error": object(openapi3.Schemas{
				"code":    typed("integer", "int32", ""),
				"message": typed("string", "", ""),
				"context": typed("object", "", ""),
			}),
		}),
	}
}
