// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package docs registers the OpenAPI document for the REST endpoints with
// swag, which serves it to the /swagger UI. It mirrors the annotations on
// the api handlers; update both together.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "AGPL-3.0-or-later",
            "url": "https://www.gnu.org/licenses/agpl-3.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "description": "Reports session and channel counts, the playback mode and the advertised capabilities",
                "produces": ["application/json"],
                "tags": ["Core"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/v1/channels": {
            "get": {
                "description": "Returns every registered channel with its schema, as advertised to WebSocket clients",
                "produces": ["application/json"],
                "tags": ["Channels"],
                "summary": "List channels",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/v1/playback": {
            "get": {
                "description": "Returns the shared controller's source, state and time range",
                "produces": ["application/json"],
                "tags": ["Playback"],
                "summary": "Shared playback state",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "404": {"description": "No shared playback is running", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/v1/parameters": {
            "get": {
                "description": "Returns every parameter in the shared store",
                "produces": ["application/json"],
                "tags": ["Parameters"],
                "summary": "List parameters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.APIResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "data": {},
                "metadata": {"$ref": "#/definitions/api.Metadata"},
                "error": {"$ref": "#/definitions/api.APIError"}
            }
        },
        "api.Metadata": {
            "type": "object",
            "properties": {
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "api.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds the exported document metadata.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Chronoscope API",
	Description:      "Read-only REST views of the Chronoscope telemetry server. Streaming and playback control use the WebSocket endpoint at /ws.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

//nolint:gochecknoinits // swag looks documents up by instance name
func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
