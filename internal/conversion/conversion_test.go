package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTransportError_Messages(t *testing.T) {
	withStatus := &TransportError{StatusCode: 500, Snippet: "boom"}
	if !strings.Contains(withStatus.Error(), "500") || !strings.Contains(withStatus.Error(), "boom") {
		t.Fatalf("unexpected message: %q", withStatus.Error())
	}
	noResp := &TransportError{Err: context.DeadlineExceeded}
	if !strings.Contains(noResp.Error(), "unreachable") {
		t.Fatalf("unexpected message: %q", noResp.Error())
	}
	if !errors.Is(noResp, context.DeadlineExceeded) {
		t.Fatalf("TransportError should unwrap to its cause")
	}
}

func TestErrorClassification(t *testing.T) {
	te := fmt.Errorf("wrapped: %w", &TransportError{StatusCode: 502})
	re := fmt.Errorf("wrapped: %w", &ResponseError{Err: errors.New("empty body")})

	if !IsTransport(te) || IsResponse(te) {
		t.Fatalf("transport error misclassified")
	}
	if !IsResponse(re) || IsTransport(re) {
		t.Fatalf("response error misclassified")
	}
	if IsTransport(errors.New("plain")) || IsResponse(errors.New("plain")) {
		t.Fatalf("plain error misclassified")
	}
}
