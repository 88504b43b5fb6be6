package http

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/ext"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// Tracing opens a Datadog span per request and puts it in the request
// context, so store spans and log correlation hang off it.
func Tracing(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracer.StartSpanFromContext(c.Request.Context(), "http.request",
			tracer.ServiceName(service),
			tracer.SpanType(ext.SpanTypeWeb),
			tracer.Tag(ext.HTTPMethod, c.Request.Method),
			tracer.Tag(ext.HTTPURL, c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetTag(ext.ResourceName, c.Request.Method+" "+routeOf(c))
		span.SetTag(ext.HTTPCode, strconv.Itoa(c.Writer.Status()))
		var opts []tracer.FinishOption
		if c.Writer.Status() >= 500 && len(c.Errors) > 0 {
			opts = append(opts, tracer.WithError(c.Errors.Last().Err))
		}
		span.Finish(opts...)
	}
}
