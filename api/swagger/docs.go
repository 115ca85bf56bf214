// Package swagger registers the OpenAPI document served under /swagger.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/form": {
            "get": {"tags": ["forms"], "summary": "List forms", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["forms"], "summary": "Create form", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/form/{formId}": {
            "get": {"tags": ["forms"], "summary": "Get form", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/form/{formId}/action": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["actions"], "summary": "List form actions", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}},
            "post": {"security": [{"BearerAuth": []}], "tags": ["actions"], "summary": "Create form action", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/form/{formId}/submission": {
            "get": {"tags": ["submissions"], "summary": "List submissions", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}, {"type": "integer", "name": "limit", "in": "query"}, {"type": "integer", "name": "skip", "in": "query"}, {"type": "string", "name": "sort", "in": "query"}], "responses": {"200": {"description": "OK", "headers": {"Content-Range": {"type": "string", "description": "items a-b/total"}}}}},
            "post": {"tags": ["submissions"], "summary": "Create submission", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}, {"type": "boolean", "name": "dryrun", "in": "query"}], "responses": {"201": {"description": "Created"}, "400": {"description": "ValidationError"}}}
        },
        "/form/{formId}/submissions": {
            "post": {"tags": ["submissions"], "summary": "Bulk create submissions", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}], "responses": {"201": {"description": "Created"}, "207": {"description": "Multi-Status"}, "400": {"description": "Bad Request"}}},
            "put": {"tags": ["submissions"], "summary": "Bulk upsert submissions", "parameters": [{"type": "string", "name": "formId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "207": {"description": "Multi-Status"}, "400": {"description": "Bad Request"}}}
        },
        "/role": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["roles"], "summary": "List roles", "responses": {"200": {"description": "OK"}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Forms API",
	Description:      "Form definitions, submissions, actions and roles.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
