package valueobject

import "strings"

// AckLevel 投递/已读确认级别
type AckLevel int

const (
	AckPending   AckLevel = 0
	AckSent      AckLevel = 1
	AckDelivered AckLevel = 2
	AckRead      AckLevel = 3
	AckPlayed    AckLevel = 4
)

// AckFromReceipt maps a gateway receipt type ("delivered", "read", "played",
// ...) to an ack level. An empty type is a plain delivery receipt.
func AckFromReceipt(receiptType string) (AckLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(receiptType)) {
	case "", "delivered", "delivery":
		return AckDelivered, true
	case "sender", "server", "sent":
		return AckSent, true
	case "read", "read-self", "readself":
		return AckRead, true
	case "played", "played-self", "playedself":
		return AckPlayed, true
	}
	return AckPending, false
}

// MarksRead 该级别是否意味着已读
func (a AckLevel) MarksRead() bool {
	return a >= AckRead
}
