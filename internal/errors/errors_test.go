package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCodeThroughChains(t *testing.T) {
	base := New(CodeNotFound, "agent 7 not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("期望错误码 %s，实际 %s", CodeNotFound, got)
	}
	if !Is(wrapped, New(CodeNotFound, "")) {
		t.Fatalf("errors.Is 应按错误码匹配")
	}
	if got := HTTPStatus(wrapped); got != http.StatusNotFound {
		t.Fatalf("期望 404，实际 %d", got)
	}
}

func TestMessageOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"plain", fmt.Errorf("boom"), "boom"},
		{"coded", New(CodeInvalidArgument, "score out of range"), "score out of range"},
		{"wrapped", Wrap(CodeChainFailure, fmt.Errorf("dial tcp"), "call ownerOf"), "call ownerOf: dial tcp"},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MessageOf(tc.err); got != tc.want {
				t.Fatalf("期望 %q，实际 %q", tc.want, got)
			}
		})
	}
}

func TestRegisterDefaultsHTTPStatus(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Retryable: true})

	attr := AttributesOf(code)
	if attr.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("未设置状态码时应默认为 500，实际 %d", attr.HTTPStatus)
	}
	if !RetryableError(New(code, "")) {
		t.Fatalf("应继承注册的 Retryable 属性")
	}
	if RetryableError(New(code, "", WithRetryable(false))) {
		t.Fatalf("选项应覆盖默认属性")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NEVER_REGISTERED"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("未知错误码应回退到 UNKNOWN 属性")
	}
}
