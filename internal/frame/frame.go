// Package frame defines the command frame exchanged between clients,
// the relay, and devices, and its broker wire representations.
package frame

import (
	"errors"
	"strconv"
	"strings"
)

// Command tags understood by devices. The set is open: the relay carries
// unknown tags opaquely and consumers ignore the ones they don't handle.
const (
	CmdPing           = "CMD_PING"
	CmdUpdateFirmware = "CMD_UPDATE_FIRMWARE"
)

// ErrMalformedFrame is returned when a broker payload cannot be decoded.
// Malformed payloads are dropped and logged, never forwarded.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the command unit used on all four hops: client→gateway,
// gateway→broker, broker→gateway, gateway→client.
type Frame struct {
	Mac uint64 `json:"mac"`
	Cmd string `json:"cmd"`

	// Args carries trailing payload fields from device replies, such as
	// the BUSY/NOT_BUSY flag on ping acks and firmware update progress.
	Args []string `json:"args,omitempty"`
}

// Encode renders the uplink payload form "<mac>/<cmd>[/<args>...]".
func Encode(f Frame) string {
	parts := make([]string, 0, 2+len(f.Args))
	parts = append(parts, strconv.FormatUint(f.Mac, 10), f.Cmd)
	parts = append(parts, f.Args...)
	return strings.Join(parts, "/")
}

// Decode parses an uplink payload. The first field is the decimal device
// mac, the second is the command tag; any further fields become Args.
// Devices append status suffixes (e.g. "CMD_PING/NOT_BUSY"), so extra
// fields are data, not an error.
func Decode(payload string) (Frame, error) {
	parts := strings.Split(payload, "/")
	if len(parts) < 2 {
		return Frame{}, ErrMalformedFrame
	}

	mac, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Frame{}, ErrMalformedFrame
	}
	if parts[1] == "" {
		return Frame{}, ErrMalformedFrame
	}

	f := Frame{Mac: mac, Cmd: parts[1]}
	if len(parts) > 2 {
		f.Args = parts[2:]
	}
	return f, nil
}

// DownlinkTopic forms the per-device publish topic "<prefix><mac>".
func DownlinkTopic(prefix string, mac uint64) string {
	return prefix + strconv.FormatUint(mac, 10)
}

// DownlinkPayload renders the payload published to a device. Device
// firmware reads field 0 as the command, so the mac is carried by the
// topic, not the payload.
func DownlinkPayload(f Frame) string {
	if len(f.Args) == 0 {
		return f.Cmd
	}
	return f.Cmd + "/" + strings.Join(f.Args, "/")
}
