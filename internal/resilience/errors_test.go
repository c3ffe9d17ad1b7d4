package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsConnection_ExplicitConnectionError(t *testing.T) {
	err := NewConnectionError(errors.New("net::ERR_CONNECTION_RESET"), "ERR_CONNECTION_RESET")
	if !IsConnection(err) {
		t.Error("expected ConnectionError to be a connection failure")
	}
}

func TestIsConnection_WrappedConnectionError(t *testing.T) {
	inner := NewConnectionError(errors.New("chrome not reachable"), "chrome not reachable")
	wrapped := fmt.Errorf("lookup: %w", inner)
	if !IsConnection(wrapped) {
		t.Error("expected wrapped ConnectionError to be a connection failure")
	}
}

func TestIsConnection_NilError(t *testing.T) {
	if IsConnection(nil) {
		t.Error("nil error should not be a connection failure")
	}
}

func TestIsConnection_RegularError(t *testing.T) {
	err := errors.New("element not found: #txtNombreRazonSocial")
	if IsConnection(err) {
		t.Error("regular error should not be a connection failure")
	}
}

func TestIsConnection_MessageAloneIsNotEnough(t *testing.T) {
	err := errors.New("connection refused")
	if IsConnection(err) {
		t.Error("untyped message must be classified by the adapter, not here")
	}
}

func TestIsConnection_Syscalls(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsConnection(err) {
			t.Errorf("%v should be a connection failure", errno)
		}
	}
}

func TestIsConnection_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsConnection(err) {
		t.Error("network timeout should be a connection failure")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityItem},
		{"plain", errors.New("bad page"), SeverityItem},
		{"typed", NewConnectionError(errors.New("gone"), ""), SeverityConnection},
		{"errno", fmt.Errorf("x: %w", syscall.ECONNRESET), SeverityConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsConnectionHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{408, true},
		{429, false},
		{500, false},
		{502, true},
		{503, true},
		{504, true},
	}
	for _, tt := range tests {
		if got := IsConnectionHTTPStatus(tt.code); got != tt.want {
			t.Errorf("IsConnectionHTTPStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestConnectionError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	ce := NewConnectionError(inner, "sig")
	if !errors.Is(ce, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if ce.Error() != "root cause" {
		t.Errorf("expected 'root cause', got %q", ce.Error())
	}
	if ce.Signature != "sig" {
		t.Errorf("expected signature 'sig', got %q", ce.Signature)
	}
}
