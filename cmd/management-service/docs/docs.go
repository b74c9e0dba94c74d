// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
	"schemes": {{ marshal .Schemes }},
	"swagger": "2.0",
	"info": {
		"description": "{{escape .Description}}",
		"title": "{{.Title}}",
		"termsOfService": "http://swagger.io/terms/",
		"contact": {
			"name": "API Support",
			"url": "http://www.example.com/support",
			"email": "support@example.com"
		},
		"license": {
			"name": "Apache 2.0",
			"url": "http://www.apache.org/licenses/LICENSE-2.0.html"
		},
		"version": "{{.Version}}"
	},
	"host": "{{.Host}}",
	"basePath": "{{.BasePath}}",
	"paths": {
		"/actions/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"actions"
				],
				"summary": "Get a rule action",
				"parameters": [
					{
						"description": "Action ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"put": {
				"produces": [
					"application/json"
				],
				"tags": [
					"actions"
				],
				"summary": "Update a rule action",
				"parameters": [
					{
						"description": "Action ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Fields to update",
						"name": "action",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"produces": [
					"application/json"
				],
				"tags": [
					"actions"
				],
				"summary": "Delete a rule action",
				"parameters": [
					{
						"description": "Action ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"204": {
						"description": "No Content"
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/audit/logs": {
			"get": {
				"description": "Get configuration changes, newest first, optionally narrowed to one entity",
				"produces": [
					"application/json"
				],
				"tags": [
					"audit"
				],
				"summary": "Get configuration audit logs",
				"parameters": [
					{
						"description": "rule, action, sequence or step",
						"name": "entity_type",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Entity ID",
						"name": "entity_id",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Maximum number of logs",
						"name": "limit",
						"in": "query",
						"required": false,
						"type": "integer"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/enrollments": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"summary": "List enrollments",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "sequence_id",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Target ID",
						"name": "target_id",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Enrollment status",
						"name": "status",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Maximum number of enrollments",
						"name": "limit",
						"in": "query",
						"required": false,
						"type": "integer"
					},
					{
						"description": "Number of enrollments to skip",
						"name": "offset",
						"in": "query",
						"required": false,
						"type": "integer"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/enrollments/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"summary": "Get an enrollment",
				"parameters": [
					{
						"description": "Enrollment ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/enrollments/{id}/cancel": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"description": "Fails with 409 while a worker is running the enrollment's current step",
				"summary": "Cancel an enrollment",
				"parameters": [
					{
						"description": "Enrollment ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/enrollments/{id}/pause": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"description": "Fails with 409 while a worker is running the enrollment's current step",
				"summary": "Pause an active enrollment",
				"parameters": [
					{
						"description": "Enrollment ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/enrollments/{id}/resume": {
			"post": {
				"description": "The current step becomes due after its own delay, counted from now",
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"summary": "Resume a paused enrollment",
				"parameters": [
					{
						"description": "Enrollment ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/events": {
			"post": {
				"description": "Runs every matching rule. Immediate executions finish before the response; delayed ones are returned pending.",
				"produces": [
					"application/json"
				],
				"tags": [
					"events"
				],
				"summary": "Dispatch a CRM event",
				"parameters": [
					{
						"description": "CRM event",
						"name": "event",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"202": {
						"description": "Accepted",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/executions": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"executions"
				],
				"summary": "List rule executions",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "rule_id",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Execution status",
						"name": "status",
						"in": "query",
						"required": false,
						"type": "string"
					},
					{
						"description": "Maximum number of executions",
						"name": "limit",
						"in": "query",
						"required": false,
						"type": "integer"
					},
					{
						"description": "Number of executions to skip",
						"name": "offset",
						"in": "query",
						"required": false,
						"type": "integer"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/executions/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"executions"
				],
				"summary": "Get a rule execution with its log",
				"parameters": [
					{
						"description": "Execution ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/rules": {
			"get": {
				"description": "Get a page of automation rules ordered by priority",
				"produces": [
					"application/json"
				],
				"tags": [
					"rules"
				],
				"summary": "List automation rules",
				"parameters": [
					{
						"description": "Maximum number of rules",
						"name": "limit",
						"in": "query",
						"required": false,
						"type": "integer"
					},
					{
						"description": "Number of rules to skip",
						"name": "offset",
						"in": "query",
						"required": false,
						"type": "integer"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"description": "Create a rule. The trigger type, filters and condition expression are validated before saving.",
				"produces": [
					"application/json"
				],
				"tags": [
					"rules"
				],
				"summary": "Create an automation rule",
				"parameters": [
					{
						"description": "Rule data",
						"name": "rule",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/rules/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"rules"
				],
				"summary": "Get an automation rule",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"put": {
				"description": "Update the given fields of a rule. Counters and action ids are not writable.",
				"produces": [
					"application/json"
				],
				"tags": [
					"rules"
				],
				"summary": "Update an automation rule",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Fields to update",
						"name": "rule",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"description": "Delete a rule together with its actions and executions",
				"produces": [
					"application/json"
				],
				"tags": [
					"rules"
				],
				"summary": "Delete an automation rule",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"204": {
						"description": "No Content"
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/rules/{id}/actions": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"actions"
				],
				"summary": "List a rule's actions",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"description": "The action config is decoded and validated against the action type",
				"produces": [
					"application/json"
				],
				"tags": [
					"actions"
				],
				"summary": "Add an action to a rule",
				"parameters": [
					{
						"description": "Rule ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Action data",
						"name": "action",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/sequences": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"sequences"
				],
				"summary": "List cadence sequences",
				"parameters": [
					{
						"description": "Maximum number of sequences",
						"name": "limit",
						"in": "query",
						"required": false,
						"type": "integer"
					},
					{
						"description": "Number of sequences to skip",
						"name": "offset",
						"in": "query",
						"required": false,
						"type": "integer"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"description": "A trigger_type in trigger_conditions makes the sequence auto-enroll on that trigger",
				"produces": [
					"application/json"
				],
				"tags": [
					"sequences"
				],
				"summary": "Create a cadence sequence",
				"parameters": [
					{
						"description": "Sequence data",
						"name": "sequence",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/sequences/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"sequences"
				],
				"summary": "Get a cadence sequence",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"put": {
				"produces": [
					"application/json"
				],
				"tags": [
					"sequences"
				],
				"summary": "Update a cadence sequence",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Fields to update",
						"name": "sequence",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"description": "Delete a sequence together with its steps and enrollments",
				"produces": [
					"application/json"
				],
				"tags": [
					"sequences"
				],
				"summary": "Delete a cadence sequence",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"204": {
						"description": "No Content"
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/sequences/{id}/enrollments": {
			"post": {
				"description": "Fails with 409 when the target already has an active or paused enrollment in the sequence",
				"produces": [
					"application/json"
				],
				"tags": [
					"enrollments"
				],
				"summary": "Enroll a target into a sequence",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Target to enroll",
						"name": "enrollment",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/sequences/{id}/steps": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"steps"
				],
				"summary": "List a sequence's steps",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"steps"
				],
				"summary": "Add a step to a sequence",
				"parameters": [
					{
						"description": "Sequence ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Step data",
						"name": "step",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		},
		"/steps/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"steps"
				],
				"summary": "Get a sequence step",
				"parameters": [
					{
						"description": "Step ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"put": {
				"produces": [
					"application/json"
				],
				"tags": [
					"steps"
				],
				"summary": "Update a sequence step",
				"parameters": [
					{
						"description": "Step ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					},
					{
						"description": "Fields to update",
						"name": "step",
						"in": "body",
						"required": true,
						"schema": {
							"type": "object"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"type": "object"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"produces": [
					"application/json"
				],
				"tags": [
					"steps"
				],
				"summary": "Delete a sequence step",
				"parameters": [
					{
						"description": "Step ID",
						"name": "id",
						"in": "path",
						"required": true,
						"type": "string"
					}
				],
				"responses": {
					"204": {
						"description": "No Content"
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/errors.ErrorResponse"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"errors.ErrorResponse": {
			"type": "object",
			"properties": {
				"details": {
					"type": "object",
					"additionalProperties": true
				},
				"error": {
					"type": "string"
				},
				"error_code": {
					"type": "string"
				}
			}
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:		  "1.0",
	Host:			 "localhost:8080",
	BasePath:		 "/api/v1",
	Schemes:		  []string{"http", "https"},
	Title:			"crmflow Management API",
	Description:	  "REST API for CRM automation rules, cadence sequences, enrollments and executions",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:		"{{",
	RightDelim:	   "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
