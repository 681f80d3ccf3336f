package main

// General API documentation for swaggo. The served document lives in internal/httpapi/swagger.go.
//
// @title           evopanel API
// @version         1.0
// @description     Control panel for composing layer-blend recipes and driving a remote merge/inference task service.
//
// @contact.name   evopanel maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
