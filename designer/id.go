package designer

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// comparable
// ulids sort by creation time, so ids generated by one client are ordered.
// The uuid text form keeps the byte order.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return encodeUuid(self)
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// document and room ids are prefixed so they read well in logs and on the wire

func NewElementId() string {
	return fmt.Sprintf("element-%s", NewId())
}

func NewScreenId() string {
	return fmt.Sprintf("screen-%s", NewId())
}

func NewRoomId() string {
	return fmt.Sprintf("room-%s", NewId())
}
