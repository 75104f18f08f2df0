package utils

import "github.com/gin-gonic/gin"

// JSONResponse is the body every comment endpoint answers with. Post carries either the
// full post view or just the identifier that was acted on.
type JSONResponse struct {
	Post  interface{} `json:"post,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, post interface{}, message string) {
	ctx.JSON(status, JSONResponse{Post: post, Error: message})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, post interface{}) {
	Respond(ctx, 200, post, "")
}

// Error returns a response carrying an error message.
func Error(ctx *gin.Context, status int, post interface{}, message string) {
	Respond(ctx, status, post, message)
}
