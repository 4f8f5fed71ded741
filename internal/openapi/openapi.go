// Package openapi derives an OpenAPI 3.0 document from the collection
// registry, giving clients a machine-readable description of the CRUD
// surface nobody has to write by hand.
package openapi

import (
	"encoding/json"
	"net/http"

	"github.com/armature-dev/armature/meta"
)

// Info titles the generated document.
type Info struct {
	Title       string
	Version     string
	Description string

	// ServerURL populates the servers section when set.
	ServerURL string
}

// Generate builds the document for every collection in the registry.
func Generate(registry *meta.Registry, info Info) map[string]any {
	if info.Title == "" {
		info.Title = "armature"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	infoObj := map[string]any{
		"title":   info.Title,
		"version": info.Version,
	}
	if info.Description != "" {
		infoObj["description"] = info.Description
	}

	doc := map[string]any{
		"openapi":    "3.0.3",
		"info":       infoObj,
		"paths":      buildPaths(registry),
		"components": buildComponents(registry),
	}
	if info.ServerURL != "" {
		doc["servers"] = []map[string]any{{"url": info.ServerURL}}
	}
	return doc
}

// Handler serves the document as JSON. It is generated once at mount
// time; the registry never changes afterward.
func Handler(registry *meta.Registry, info Info) http.HandlerFunc {
	doc := Generate(registry, info)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func buildPaths(registry *meta.Registry) map[string]any {
	paths := make(map[string]any)
	for _, e := range registry.Entities() {
		addCollectionPaths(paths, e)
	}
	return paths
}

func addCollectionPaths(paths map[string]any, e *meta.Entity) {
	base := "/api/" + e.Name
	record := schemaRef(e.Name)

	root := pathItem(paths, base)
	if e.Ops.Read {
		op := buildOp(e, "list", "List "+e.Name)
		op["parameters"] = listParams(e)
		op["responses"] = responses(listData(record))
		root["get"] = op
	}
	if e.Ops.Create {
		op := buildOp(e, "create", "Create a "+e.Name+" record")
		op["requestBody"] = requestBody(inputSchema(e.CreateFields(), true))
		op["responses"] = responses(record)
		root["post"] = op
	}

	if e.Ops.Read || e.Ops.Update || e.Ops.Delete {
		item := pathItem(paths, base+"/{id}")
		item["parameters"] = []map[string]any{pathParam("id")}
		if e.Ops.Read {
			op := buildOp(e, "read", "Read a "+e.Name+" record")
			op["responses"] = responses(record)
			item["get"] = op
		}
		if e.Ops.Update {
			patch := buildOp(e, "update", "Update a "+e.Name+" record")
			patch["requestBody"] = requestBody(inputSchema(e.UpdateFields(), false))
			patch["responses"] = responses(record)
			item["patch"] = patch

			put := buildOp(e, "replace", "Update a "+e.Name+" record")
			put["requestBody"] = requestBody(inputSchema(e.UpdateFields(), false))
			put["responses"] = responses(record)
			item["put"] = put
		}
		if e.Ops.Delete {
			op := buildOp(e, "delete", "Delete a "+e.Name+" record")
			op["responses"] = responses(nil)
			item["delete"] = op
		}
	}

	if e.Ops.Clone {
		item := pathItem(paths, base+"/{id}/clone")
		item["parameters"] = []map[string]any{pathParam("id")}
		op := buildOp(e, "clone", "Clone a "+e.Name+" record")
		op["requestBody"] = requestBody(inputSchema(e.CloneFields(), false))
		op["responses"] = responses(record)
		item["post"] = op
	}

	if e.Ops.Update {
		item := pathItem(paths, base+"/batch")
		op := buildOp(e, "batch", "Update several "+e.Name+" records")
		op["requestBody"] = requestBody(objectSchema(map[string]any{
			"ids":   arraySchema(map[string]any{"type": "string"}),
			"patch": inputSchema(e.UpdateFields(), false),
		}))
		op["responses"] = responses(objectSchema(map[string]any{
			"updated": map[string]any{"type": "integer"},
			"items": arraySchema(objectSchema(map[string]any{
				"id":   map[string]any{"type": "string"},
				"code": map[string]any{"type": "integer"},
				"err":  map[string]any{"type": "string"},
			})),
		}))
		item["post"] = op
	}

	if e.Ops.Import {
		item := pathItem(paths, base+"/import")
		op := buildOp(e, "import", "Import "+e.Name+" records")
		op["requestBody"] = requestBody(objectSchema(map[string]any{
			"rows": arraySchema(inputSchema(e.CreateFields(), false)),
		}))
		op["responses"] = responses(objectSchema(map[string]any{
			"created": map[string]any{"type": "integer"},
			"rows": arraySchema(objectSchema(map[string]any{
				"id":   map[string]any{"type": "string"},
				"code": map[string]any{"type": "integer"},
				"err":  map[string]any{"type": "string"},
			})),
		}))
		item["post"] = op
	}

	if e.Ops.Export {
		item := pathItem(paths, base+"/export")
		op := buildOp(e, "export", "Export "+e.Name+" records")
		op["parameters"] = listParams(e)
		op["responses"] = responses(objectSchema(map[string]any{
			"collection": map[string]any{"type": "string"},
			"items":      arraySchema(record),
			"total":      map[string]any{"type": "integer"},
		}))
		item["get"] = op
	}

	metaOp := buildOp(e, "meta", "Describe the "+e.Name+" collection")
	metaOp["parameters"] = []map[string]any{queryParam("declared", "string", "Mode string to narrow the reported permissions by")}
	metaOp["responses"] = responses(map[string]any{"type": "object"})
	pathItem(paths, base+"/meta")["get"] = metaOp

	modeOp := buildOp(e, "mode", "Report the caller's "+e.Name+" permissions")
	modeOp["parameters"] = []map[string]any{queryParam("declared", "string", "Mode string to narrow the reported permissions by")}
	modeOp["responses"] = responses(objectSchema(map[string]any{
		"collection": map[string]any{"type": "string"},
		"mode":       map[string]any{"type": "string"},
	}))
	pathItem(paths, base+"/mode")["get"] = modeOp

	refOp := buildOp(e, "ref", "List "+e.Name+" reference options")
	refOp["parameters"] = []map[string]any{
		queryParam("field", "string", "Reference field to offer options for"),
		queryParam("q", "string", "Label prefix to match"),
		queryParam("limit", "integer", "Maximum options returned"),
	}
	refOp["responses"] = responses(arraySchema(objectSchema(map[string]any{
		"id":    map[string]any{"type": "string"},
		"label": map[string]any{"type": "string"},
	})))
	pathItem(paths, base+"/ref")["get"] = refOp
}

// pathItem returns the operations map for a path, creating it on first
// use so several operations can share one path entry.
func pathItem(paths map[string]any, path string) map[string]any {
	item, ok := paths[path].(map[string]any)
	if !ok {
		item = make(map[string]any)
		paths[path] = item
	}
	return item
}

func buildOp(e *meta.Entity, action, summary string) map[string]any {
	op := map[string]any{
		"operationId": action + "_" + e.Name,
		"summary":     summary,
		"tags":        []string{e.Name},
	}
	if e.Auth {
		op["security"] = []map[string]any{{"bearerAuth": []string{}}}
	}
	return op
}

func listParams(e *meta.Entity) []map[string]any {
	params := []map[string]any{
		queryParam("limit", "integer", "Page size"),
		queryParam("offset", "integer", "Rows to skip"),
		queryParam("sort", "string", "Comma-separated sort keys, leading - for descending"),
	}
	for _, f := range e.SearchFields() {
		if f.Secure {
			continue
		}
		params = append(params, queryParam(f.Name, scalarType(f), "Filter by "+f.Name))
	}
	return params
}

func queryParam(name, typ, description string) map[string]any {
	return map[string]any{
		"name":        name,
		"in":          "query",
		"required":    false,
		"description": description,
		"schema":      map[string]any{"type": typ},
	}
}

func pathParam(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}
}

func requestBody(schema map[string]any) map[string]any {
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

// responses describes the engine envelope: 200 with the operation's
// data on success, any other status with the code identifying the
// failure.
func responses(data map[string]any) map[string]any {
	return map[string]any{
		"200": map[string]any{
			"description": "Success",
			"content": map[string]any{
				"application/json": map[string]any{"schema": envelope(data)},
			},
		},
		"default": map[string]any{
			"description": "Failure, identified by the envelope code",
			"content": map[string]any{
				"application/json": map[string]any{"schema": envelope(nil)},
			},
		},
	}
}

func envelope(data map[string]any) map[string]any {
	properties := map[string]any{
		"code": map[string]any{"type": "integer"},
		"err":  map[string]any{"type": "string"},
	}
	if data != nil {
		properties["data"] = data
	}
	return map[string]any{"type": "object", "properties": properties}
}

func listData(record map[string]any) map[string]any {
	return objectSchema(map[string]any{
		"items":  arraySchema(record),
		"total":  map[string]any{"type": "integer"},
		"limit":  map[string]any{"type": "integer"},
		"offset": map[string]any{"type": "integer"},
	})
}

func buildComponents(registry *meta.Registry) map[string]any {
	schemas := make(map[string]any)
	secured := false
	for _, e := range registry.Entities() {
		schemas[e.Name] = recordSchema(e)
		if e.Auth {
			secured = true
		}
	}

	components := map[string]any{"schemas": schemas}
	if secured {
		components["securitySchemes"] = map[string]any{
			"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
		}
	}
	return components
}

// recordSchema describes a projected record: the system columns plus
// every visible declared field.
func recordSchema(e *meta.Entity) map[string]any {
	properties := map[string]any{
		"id":         map[string]any{"type": "string"},
		"created_at": map[string]any{"type": "string", "format": "date-time"},
		"updated_at": map[string]any{"type": "string", "format": "date-time"},
	}
	for _, f := range e.PropertyFields() {
		properties[f.Name] = fieldSchema(f)
	}
	return map[string]any{"type": "object", "properties": properties}
}

func inputSchema(fields []*meta.Field, withRequired bool) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		properties[f.Name] = fieldSchema(f)
		if withRequired && f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func objectSchema(properties map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": properties}
}

func arraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func schemaRef(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

// fieldSchema maps a declared field type to its OpenAPI schema. Link
// fields carry no type and fall through to string, matching the labels
// they usually copy.
func fieldSchema(f *meta.Field) map[string]any {
	switch f.Type {
	case meta.TypeInt:
		return map[string]any{"type": "integer"}
	case meta.TypeFloat:
		return map[string]any{"type": "number"}
	case meta.TypeBool:
		return map[string]any{"type": "boolean"}
	case meta.TypeTime:
		return map[string]any{"type": "string", "format": "date-time"}
	case meta.TypeDate:
		return map[string]any{"type": "string", "format": "date"}
	case meta.TypeEmail:
		return map[string]any{"type": "string", "format": "email"}
	case meta.TypeURL:
		return map[string]any{"type": "string", "format": "uri"}
	case meta.TypeJSON:
		return map[string]any{}
	case meta.TypeStrings, meta.TypeRefs:
		return arraySchema(map[string]any{"type": "string"})
	case meta.TypeInts:
		return arraySchema(map[string]any{"type": "integer"})
	default:
		return map[string]any{"type": "string"}
	}
}

// scalarType is the query-parameter form of a field type. Array and
// json fields filter by a single value, so they stay strings.
func scalarType(f *meta.Field) string {
	switch f.Type {
	case meta.TypeInt:
		return "integer"
	case meta.TypeFloat:
		return "number"
	case meta.TypeBool:
		return "boolean"
	default:
		return "string"
	}
}
