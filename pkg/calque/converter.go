package calque

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// InputConverter produces the stream a flow reads from.
type InputConverter interface {
	ToReader() (io.Reader, error)
}

// OutputConverter consumes the stream a flow writes.
type OutputConverter interface {
	FromReader(reader io.Reader) error
}

// JSON carries a typed value across a flow boundary. As Run input the value
// is encoded; as Run output the stream is decoded into it.
//
//	var matches []retrieval.Match
//	err := flow.Run(ctx, query, calque.AsJSON(&matches))
type JSON[T any] struct {
	Value *T
}

// AsJSON wraps v for use as flow input or output.
func AsJSON[T any](v *T) *JSON[T] { return &JSON[T]{Value: v} }

// ToReader implements InputConverter.
func (j *JSON[T]) ToReader() (io.Reader, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(j.Value); err != nil {
		return nil, err
	}
	return &buf, nil
}

// FromReader implements OutputConverter.
func (j *JSON[T]) FromReader(reader io.Reader) error {
	if err := json.NewDecoder(reader).Decode(j.Value); err != nil {
		return err
	}
	// drain so the writer side is never left blocked
	_, err := io.Copy(io.Discard, reader)
	return err
}

func inputToReader(ctx context.Context, input any) (io.Reader, error) {
	if conv, ok := input.(InputConverter); ok {
		return conv.ToReader()
	}

	switch v := input.(type) {
	case nil:
		return strings.NewReader(""), nil
	case string:
		return strings.NewReader(v), nil
	case []byte:
		return bytes.NewReader(v), nil
	case io.Reader:
		return v, nil
	}
	return nil, NewErr(ctx, fmt.Sprintf("unsupported input type: %T", input))
}

// readerToOutput drains reader into output. Only pointer targets buffer.
func readerToOutput(ctx context.Context, reader io.Reader, output any) error {
	var buf bytes.Buffer
	switch out := output.(type) {
	case nil:
		_, err := io.Copy(io.Discard, reader)
		return err
	case OutputConverter:
		return out.FromReader(reader)
	case io.Writer:
		_, err := io.Copy(out, reader)
		return err
	case *string:
		if _, err := io.Copy(&buf, reader); err != nil {
			return err
		}
		*out = buf.String()
	case *[]byte:
		if _, err := io.Copy(&buf, reader); err != nil {
			return err
		}
		*out = buf.Bytes()
	case *io.Reader:
		// Run has returned before the caller reads, so this cannot stream
		if _, err := io.Copy(&buf, reader); err != nil {
			return err
		}
		*out = &buf
	default:
		return NewErr(ctx, fmt.Sprintf("unsupported output type: %T", output))
	}
	return nil
}

// copyInputToOutput runs an empty flow. Same-type string and byte runs skip
// the reader.
func copyInputToOutput(ctx context.Context, input, output any) error {
	switch in := input.(type) {
	case string:
		if out, ok := output.(*string); ok {
			*out = in
			return nil
		}
	case []byte:
		if out, ok := output.(*[]byte); ok {
			*out = bytes.Clone(in)
			return nil
		}
	}

	reader, err := inputToReader(ctx, input)
	if err != nil {
		return err
	}
	return readerToOutput(ctx, reader, output)
}
