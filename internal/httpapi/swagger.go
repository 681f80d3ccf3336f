//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

type staticDoc string

func (d staticDoc) ReadDoc() string { return string(d) }

func init() {
	swag.Register(swag.Name, staticDoc(openAPIDoc))
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

const openAPIDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "evopanel API",
    "description": "Recipe editing and job submission for two-model layer merges.",
    "version": "1.0"
  },
  "basePath": "/",
  "schemes": ["http"],
  "paths": {
    "/api/state": {"get": {"summary": "Panel snapshot", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/api/selection": {"put": {"summary": "Select the two models to blend", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
    "/api/output-layers": {"put": {"summary": "Set the number of output layers", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
    "/api/merged-name": {"put": {"summary": "Set the merged model name", "consumes": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/api/weights/{group}": {"put": {"summary": "Set an embedding or linear blend weight", "parameters": [{"name": "group", "in": "path", "required": true, "type": "string", "enum": ["embedding", "linear"]}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
    "/api/recipe/randomize": {"post": {"summary": "Randomize the recipe", "responses": {"200": {"description": "OK"}}}},
    "/api/recipe/layers/{layer}/blocks": {"post": {"summary": "Add a block to a layer", "parameters": [{"name": "layer", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
    "/api/recipe/layers/{layer}/blocks/{block}": {
      "patch": {"summary": "Update a block field", "parameters": [{"name": "layer", "in": "path", "required": true, "type": "integer"}, {"name": "block", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}},
      "delete": {"summary": "Remove a block", "parameters": [{"name": "layer", "in": "path", "required": true, "type": "integer"}, {"name": "block", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
    },
    "/api/layer-counts/{model}": {
      "get": {"summary": "Stored layer count of a model", "parameters": [{"name": "model", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
      "put": {"summary": "Record the layer count of a model", "parameters": [{"name": "model", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
    },
    "/api/models": {"get": {"summary": "Known model names", "responses": {"200": {"description": "OK"}}}},
    "/api/models/refresh": {"post": {"summary": "Start a model list job", "responses": {"202": {"description": "Accepted"}, "502": {"description": "Bad Gateway"}}}},
    "/api/merge": {"post": {"summary": "Start a merge job for the current recipe", "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "502": {"description": "Bad Gateway"}}}},
    "/api/generate": {"post": {"summary": "Start an inference job", "consumes": ["application/json"], "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "502": {"description": "Bad Gateway"}}}},
    "/api/jobs": {"get": {"summary": "List jobs", "responses": {"200": {"description": "OK"}}}},
    "/api/jobs/{id}": {
      "get": {"summary": "Job status", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
      "delete": {"summary": "Cancel a job", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
    }
  }
}`
