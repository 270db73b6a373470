package messaging

import (
	"context"
	"fmt"
)

// RawResult is what the provider answered for one send attempt.
//
// Transports return a non-nil error only when no provider answer was
// obtained (network failure, timeout). Provider rejections come back as a
// RawResult with a non-2xx StatusCode and the provider ErrorCode.
type RawResult struct {
	MessageID    string
	StatusCode   int
	ErrorCode    int
	ErrorMessage string
}

// Transport sends payloads over the messaging channel.
type Transport interface {
	SendText(ctx context.Context, to string, p Text) (RawResult, error)
	SendButtons(ctx context.Context, to string, p Buttons) (RawResult, error)
	SendList(ctx context.Context, to string, p List) (RawResult, error)
	SendTemplate(ctx context.Context, to string, p Template) (RawResult, error)
}

func sendPayload(ctx context.Context, t Transport, to string, p Payload) (RawResult, error) {
	switch v := p.(type) {
	case Text:
		return t.SendText(ctx, to, v)
	case Buttons:
		return t.SendButtons(ctx, to, v)
	case List:
		return t.SendList(ctx, to, v)
	case Template:
		return t.SendTemplate(ctx, to, v)
	default:
		return RawResult{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidPayload, p)
	}
}
