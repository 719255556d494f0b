package main

// General API documentation for swaggo. Run `swag init -g cmd/llmserve/docs.go` to regenerate docs/.
//
// @title           llmserve API
// @version         1.0
// @description     KServe v2 HTTP API for batched LLM text generation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
