package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/xerrors"
)

// Subprotocols negotiated for the payload conventions layered on text messages.
const (
	// SubprotocolMessageID is the "<id> <payload>" text convention.
	SubprotocolMessageID = "wsmsgid"
	// SubprotocolJSON is the {"messageID": id, "__data": value} convention.
	SubprotocolJSON = "wsmsgid-json"
)

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func secWebSocketKey() (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", xerrors.Errorf("failed to read random data from rand.Reader: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func headerContainsToken(h http.Header, key, token string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	return httpguts.HeaderValuesContainsToken(h[key], token)
}

// verifyClientRequest checks the upgrade request in order: method, Upgrade,
// Connection, key, version and finally the required subprotocol.
// The returned error is a *HandshakeError carrying the status to reply with.
func verifyClientRequest(r *http.Request, requiredSubprotocol string) error {
	reject := func(code int, format string, v ...interface{}) error {
		return &HandshakeError{
			StatusCode: code,
			Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
			Reason:     fmt.Sprintf(format, v...),
		}
	}

	if r.Method != http.MethodGet {
		return reject(http.StatusBadRequest, "handshake request method is not GET but %q", r.Method)
	}

	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		return reject(http.StatusBadRequest, "Upgrade header must contain websocket but got %q", r.Header.Get("Upgrade"))
	}

	if !headerContainsToken(r.Header, "Connection", "Upgrade") {
		return reject(http.StatusBadRequest, "Connection header must contain Upgrade but got %q", r.Header.Get("Connection"))
	}

	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return reject(http.StatusBadRequest, "missing Sec-WebSocket-Key")
	}

	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return reject(http.StatusUpgradeRequired, "unsupported WebSocket protocol version (only 13 is supported): %q", r.Header.Get("Sec-WebSocket-Version"))
	}

	if requiredSubprotocol != "" && !headerContainsToken(r.Header, "Sec-WebSocket-Protocol", requiredSubprotocol) {
		return reject(http.StatusUpgradeRequired, "client must offer the %q subprotocol", requiredSubprotocol)
	}

	return nil
}

func selectSubprotocol(r *http.Request, subprotocols []string) string {
	for _, sp := range subprotocols {
		if headerContainsToken(r.Header, "Sec-WebSocket-Protocol", sp) {
			return sp
		}
	}
	return ""
}

func switchingProtocolsHeader(r *http.Request, subprotocol string) http.Header {
	h := http.Header{}
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Accept", secWebSocketAccept(r.Header.Get("Sec-WebSocket-Key")))
	if subprotocol != "" {
		h.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	return h
}

// rejectionHeader returns the headers of a failed handshake response.
// 426 responses advertise the version the client should retry with.
func rejectionHeader(he *HandshakeError) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	if he.StatusCode == http.StatusUpgradeRequired {
		h.Set("Sec-WebSocket-Version", "13")
	}
	return h
}

// writeResponse writes a complete HTTP/1.1 response onto a hijacked or raw connection.
func writeResponse(bw *bufio.Writer, code int, h http.Header, body string) error {
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	if code != http.StatusSwitchingProtocols {
		h.Set("Content-Length", strconv.Itoa(len(body)))
		h.Set("Connection", "close")
	}
	err := h.Write(bw)
	if err != nil {
		return err
	}
	bw.WriteString("\r\n")
	bw.WriteString(body)
	return bw.Flush()
}

func writeRejection(bw *bufio.Writer, he *HandshakeError) error {
	return writeResponse(bw, he.StatusCode, rejectionHeader(he), he.Reason+"\n")
}

func verifyServerResponse(resp *http.Response, key string, subprotocols []string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return xerrors.Errorf("expected handshake response status code %v but got %v", http.StatusSwitchingProtocols, resp.StatusCode)
	}

	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return xerrors.Errorf("Connection header %q does not contain Upgrade", resp.Header.Get("Connection"))
	}

	if !headerContainsToken(resp.Header, "Upgrade", "WebSocket") {
		return xerrors.Errorf("Upgrade header %q does not contain websocket", resp.Header.Get("Upgrade"))
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != secWebSocketAccept(key) {
		return xerrors.Errorf("Sec-WebSocket-Accept %q does not match expected value %q",
			resp.Header.Get("Sec-WebSocket-Accept"),
			secWebSocketAccept(key),
		)
	}

	proto := resp.Header.Get("Sec-WebSocket-Protocol")
	if proto == "" {
		return nil
	}
	for _, sp := range subprotocols {
		if strings.EqualFold(sp, proto) {
			return nil
		}
	}
	return xerrors.Errorf("server selected unoffered subprotocol %q", proto)
}
