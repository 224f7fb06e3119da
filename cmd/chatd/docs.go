package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           chatd API
// @version         1.0
// @description     OpenAI-compatible chat completion gateway in front of a llama.cpp engine.
//
// @contact.name   chatd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
