package websocket

import (
	"math"
	"strings"
	"testing"

	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/test/assert"
)

func TestCloseError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		ce      CloseError
		success bool
	}{
		{
			name: "normal",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxControlPayload-2),
			},
			success: true,
		},
		{
			name: "bigReason",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxControlPayload-1),
			},
			success: false,
		},
		{
			name: "bigCode",
			ce: CloseError{
				Code:   math.MaxUint16,
				Reason: strings.Repeat("x", maxControlPayload-2),
			},
			success: false,
		},
		{
			name: "applicationCode",
			ce: CloseError{
				Code: 4000,
			},
			success: true,
		},
		{
			name: "noStatus",
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
			success: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := tc.ce.bytes()
			if (err == nil) != tc.success {
				t.Fatalf("unexpected error value: %v", err)
			}
		})
	}
}

func TestParseClosePayload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		p       []byte
		success bool
		ce      CloseError
	}{
		{
			name:    "normal",
			p:       append([]byte{0x3, 0xE8}, "hello"...),
			success: true,
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: "hello",
			},
		},
		{
			name:    "nothing",
			success: true,
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
		},
		{
			name:    "oneByte",
			p:       []byte{0},
			success: false,
		},
		{
			name:    "badStatusCode",
			p:       []byte{0x17, 0x70},
			success: false,
		},
		{
			name:    "abnormalOnTheWire",
			p:       []byte{0x3, 0xEE},
			success: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ce, err := parseClosePayload(tc.p)
			if !tc.success {
				assert.Error(t, err)
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "close error", tc.ce, ce)
		})
	}
}

func TestValidWireCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		code  StatusCode
		valid bool
	}{
		{name: "normal", code: StatusNormalClosure, valid: true},
		{name: "reserved", code: statusReserved, valid: false},
		{name: "noStatus", code: StatusNoStatusRcvd, valid: false},
		{name: "abnormal", code: StatusAbnormalClosure, valid: false},
		{name: "tls", code: StatusTLSHandshake, valid: false},
		{name: "badGateway", code: StatusBadGateway, valid: true},
		{name: "unassigned", code: 1016, valid: false},
		{name: "library", code: 3000, valid: true},
		{name: "private", code: 4999, valid: true},
		{name: "tooBig", code: 5000, valid: false},
		{name: "tooSmall", code: 999, valid: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "valid", tc.valid, validWireCloseCode(tc.code))
		})
	}
}

func TestCloseStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   error
		exp  StatusCode
	}{
		{
			name: "nil",
			in:   nil,
			exp:  -1,
		},
		{
			name: "io.EOF",
			in:   xerrors.New("io.EOF"),
			exp:  -1,
		},
		{
			name: "StatusInternalError",
			in: CloseError{
				Code: StatusInternalError,
			},
			exp: StatusInternalError,
		},
		{
			name: "wrapped",
			in: xerrors.Errorf("read failed: %w", CloseError{
				Code: StatusGoingAway,
			}),
			exp: StatusGoingAway,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "close status", tc.exp, CloseStatus(tc.in))
		})
	}
}

func TestStatusCodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "name", "StatusMessageTooBig", StatusMessageTooBig.String())
	assert.Equal(t, "name", "StatusCode(4000)", StatusCode(4000).String())
}
