package valueobject

import (
	"errors"
	"strings"
)

const (
	// CanonicalSuffix is the one internal suffix every chat address is rewritten to.
	CanonicalSuffix = "@c.us"

	networkSuffix   = "@s.whatsapp.net"
	linkedSuffix    = "@lid"
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
)

// ErrBroadcastAddress 广播/状态频道地址，调用方应忽略该事件
var ErrBroadcastAddress = errors.New("broadcast address")

// ErrEmptyAddress 地址为空
var ErrEmptyAddress = errors.New("empty chat address")

// Address 规范化后的聊天地址
type Address string

// NormalizeAddress canonicalizes a raw chat address. A linked identifier
// (@lid) is replaced by alt when alt is a real network address.
func NormalizeAddress(raw, alt string) (Address, error) {
	raw = strings.TrimSpace(raw)
	alt = strings.TrimSpace(alt)
	if raw == "" {
		return "", ErrEmptyAddress
	}
	if strings.HasSuffix(raw, broadcastSuffix) {
		return "", ErrBroadcastAddress
	}

	chosen := raw
	if strings.HasSuffix(raw, linkedSuffix) && strings.Contains(alt, networkSuffix) {
		chosen = alt
	}

	switch {
	case strings.HasSuffix(chosen, networkSuffix):
		chosen = strings.TrimSuffix(chosen, networkSuffix)
	case strings.HasSuffix(chosen, linkedSuffix):
		chosen = strings.TrimSuffix(chosen, linkedSuffix)
	case strings.HasSuffix(chosen, CanonicalSuffix):
		chosen = strings.TrimSuffix(chosen, CanonicalSuffix)
	case strings.HasSuffix(chosen, groupSuffix):
		return Address(stripDevice(strings.TrimSuffix(chosen, groupSuffix)) + groupSuffix), nil
	}

	user := stripDevice(chosen)
	if user == "" {
		return "", ErrEmptyAddress
	}
	return Address(user + CanonicalSuffix), nil
}

// stripDevice drops a multi-device suffix ("5511999:12" -> "5511999").
func stripDevice(user string) string {
	if i := strings.IndexByte(user, ':'); i >= 0 {
		return user[:i]
	}
	return user
}

// Number returns the user part of the address (the phone number for people).
func (a Address) Number() string {
	s := string(a)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsGroup 是否群组地址
func (a Address) IsGroup() bool {
	return strings.HasSuffix(string(a), groupSuffix)
}

func (a Address) String() string {
	return string(a)
}
