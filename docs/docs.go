// Package docs registers the chatd OpenAPI document with swag. Regenerate
// with `make swagger-gen` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "chatd maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/chat/completions": {
            "post": {
                "description": "Returns a chat.completion object, or a text/event-stream of chat.completion.chunk items when stream is true.",
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "tags": ["chat"],
                "summary": "Create a chat completion",
                "parameters": [
                    {
                        "description": "Chat completion request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.ChatCompletionRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ChatCompletionResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/models": {
            "get": {
                "description": "Lists the base model followed by configured LoRA modules and prompt adapters.",
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List servable models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelList"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ops"],
                "summary": "Deployment status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ChatMessage": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "example": "user"},
                "content": {"type": "string", "example": "Write a haiku about the ocean."},
                "name": {"type": "string"}
            }
        },
        "types.StreamOptions": {
            "type": "object",
            "properties": {
                "include_usage": {"type": "boolean"}
            }
        },
        "types.ChatCompletionRequest": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "demo-7b"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/types.ChatMessage"}},
                "stream": {"type": "boolean", "example": false},
                "stream_options": {"$ref": "#/definitions/types.StreamOptions"},
                "max_tokens": {"type": "integer", "example": 128},
                "max_completion_tokens": {"type": "integer"},
                "temperature": {"type": "number", "example": 0.7},
                "top_p": {"type": "number", "example": 0.9},
                "top_k": {"type": "integer", "example": 40},
                "n": {"type": "integer", "example": 1},
                "stop": {"type": "array", "items": {"type": "string"}},
                "seed": {"type": "integer", "example": 42},
                "presence_penalty": {"type": "number", "example": 0},
                "frequency_penalty": {"type": "number", "example": 0},
                "repetition_penalty": {"type": "number", "example": 1.1},
                "user": {"type": "string"}
            }
        },
        "types.ChatChoice": {
            "type": "object",
            "properties": {
                "index": {"type": "integer"},
                "message": {"$ref": "#/definitions/types.ChatMessage"},
                "finish_reason": {"type": "string", "example": "stop"}
            }
        },
        "types.Usage": {
            "type": "object",
            "properties": {
                "prompt_tokens": {"type": "integer", "example": 12},
                "completion_tokens": {"type": "integer", "example": 34},
                "total_tokens": {"type": "integer", "example": 46}
            }
        },
        "types.ChatCompletionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "chatcmpl-0b6f4d8e"},
                "object": {"type": "string", "example": "chat.completion"},
                "created": {"type": "integer", "example": 1700000000},
                "model": {"type": "string", "example": "demo-7b"},
                "choices": {"type": "array", "items": {"$ref": "#/definitions/types.ChatChoice"}},
                "usage": {"$ref": "#/definitions/types.Usage"}
            }
        },
        "types.ModelCard": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "demo-7b"},
                "object": {"type": "string", "example": "model"},
                "created": {"type": "integer", "example": 1700000000},
                "owned_by": {"type": "string", "example": "chatd"},
                "root": {"type": "string", "example": "demo-7b"},
                "parent": {"type": "string"},
                "max_model_len": {"type": "integer", "example": 4096}
            }
        },
        "types.ModelList": {
            "type": "object",
            "properties": {
                "object": {"type": "string", "example": "list"},
                "data": {"type": "array", "items": {"$ref": "#/definitions/types.ModelCard"}}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "object": {"type": "string", "example": "error"},
                "message": {"type": "string", "example": "The model foo does not exist."},
                "type": {"type": "string", "example": "NotFoundError"},
                "param": {"type": "string"},
                "code": {"type": "integer", "example": 404}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "ready"},
                "model": {"type": "string", "example": "demo-7b"},
                "accelerator": {"type": "string", "example": "GPU"},
                "tensor_parallel_size": {"type": "integer", "example": 1},
                "distributed_engine": {"type": "boolean", "example": false},
                "engine_use_v1": {"type": "string", "example": "not set"},
                "builds_total": {"type": "integer", "example": 1},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "chatd API",
	Description:      "OpenAI-compatible chat completion gateway in front of a llama.cpp engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
