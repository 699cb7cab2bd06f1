// Package ws implements the WebSocket upgrade handshake and core frame
// codec (RFC 6455). Only the framing primitives the gateway needs are
// provided: handshake, payload length encodings, client unmasking, close.
package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"openclaw/gateway/pkg/httpwire"
)

// magicGUID is the fixed RFC 6455 handshake GUID.
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// IsUpgrade reports whether req asks for a WebSocket upgrade.
func IsUpgrade(req *httpwire.Request) bool {
	upgrade, _ := req.Header("Upgrade")
	if !strings.EqualFold(upgrade, "websocket") {
		return false
	}
	key, ok := req.Header("Sec-WebSocket-Key")
	return ok && key != ""
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA-1(key + magic GUID)).
func AcceptKey(clientKey string) string {
	h := sha1.Sum([]byte(clientKey + magicGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Upgrade fills resp with the 101 handshake response for req. It returns
// false when the request is not a valid upgrade request, in which case
// resp is left untouched.
func Upgrade(req *httpwire.Request, resp *httpwire.Response) bool {
	if !IsUpgrade(req) {
		return false
	}
	key, _ := req.Header("Sec-WebSocket-Key")
	resp.SetStatus(101, "Switching Protocols")
	resp.AddHeader("Upgrade", "websocket")
	resp.AddHeader("Connection", "Upgrade")
	resp.AddHeader("Sec-WebSocket-Accept", AcceptKey(key))
	return true
}
