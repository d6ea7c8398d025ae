package calque

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Handler is one stage of a flow. It reads req.Data until EOF and writes its
// result to res.Data; returning an error aborts the flow.
type Handler interface {
	ServeFlow(*Request, *Response) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request, res *Response) error

// ServeFlow calls f.
func (f HandlerFunc) ServeFlow(req *Request, res *Response) error {
	return f(req, res)
}

// Request is the input side of a stage.
type Request struct {
	Context context.Context
	Data    io.Reader
}

// NewRequest binds data to ctx.
func NewRequest(ctx context.Context, data io.Reader) *Request {
	return &Request{Context: ctx, Data: data}
}

// WithContext returns a copy of r reading the same data under ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	return &Request{Context: ctx, Data: r.Data}
}

// Response is the output side of a stage.
type Response struct {
	Data io.Writer
}

// NewResponse wraps w.
func NewResponse(w io.Writer) *Response {
	return &Response{Data: w}
}

// Read buffers the whole request into out.
//
//	var question string
//	if err := calque.Read(req, &question); err != nil {
//		return err
//	}
func Read[T string | []byte](req *Request, out *T) error {
	data, err := io.ReadAll(req.Data)
	if err != nil {
		return err
	}
	switch p := any(out).(type) {
	case *string:
		*p = string(data)
	case *[]byte:
		*p = data
	}
	return nil
}

// Write writes data to the response.
func Write[T string | []byte](res *Response, data T) error {
	switch v := any(data).(type) {
	case string:
		_, err := io.WriteString(res.Data, v)
		return err
	case []byte:
		_, err := res.Data.Write(v)
		return err
	}
	return fmt.Errorf("unsupported type %T", data)
}

// ReadJSON decodes the request stream into v.
func ReadJSON(req *Request, v any) error {
	if err := json.NewDecoder(req.Data).Decode(v); err != nil {
		return WrapErr(req.Context, err, "decoding JSON input")
	}
	return nil
}

// WriteJSON encodes v as one JSON line. Hangul and markup stay unescaped.
func WriteJSON(res *Response, v any) error {
	enc := json.NewEncoder(res.Data)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
