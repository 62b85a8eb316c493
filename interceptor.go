package tangguh

import "context"

// RequestInterceptor runs before each transport attempt and may mutate the
// outgoing request (extra headers, tracing baggage). Returning an error
// aborts the call with a terminal validation error: an interceptor failure
// is a local defect, not a transient transport condition.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor runs after each transport attempt that produced a
// response, before classification.
type ResponseInterceptor func(ctx context.Context, resp *Response) error
