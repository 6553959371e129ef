package response

import (
	"github.com/gin-gonic/gin"
)

// ExamAppError is the error object of an exam-app response.
type ExamAppError struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// ExamAppOK sends the flat {success:true, ...} body the exam-taking app
// expects. fields are merged into the top level.
func ExamAppOK(c *gin.Context, statusCode int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.Header(HeaderRequestID, requestID(c))
	c.JSON(statusCode, body)
}

// ExamAppFail sends {success:false, error:{code,message}}.
func ExamAppFail(c *gin.Context, statusCode int, code ErrCode) {
	c.Header(HeaderRequestID, requestID(c))
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   ExamAppError{Code: code, Message: GetMessage(code)},
	})
}

// AbortExamAppFail aborts the middleware chain with an exam-app failure body.
func AbortExamAppFail(c *gin.Context, statusCode int, code ErrCode) {
	ExamAppFail(c, statusCode, code)
	c.Abort()
}
