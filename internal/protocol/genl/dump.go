package genl

import (
	"fmt"
	"strings"

	"github.com/danmuck/genlecho/internal/protocol/attr"
	"github.com/danmuck/genlecho/internal/protocol/nlmsg"
)

const dumpColumns = 16

// Dump renders m as a multi-line debug listing: outer header, command header,
// then every attribute with a hex and printable column.
func Dump(m nlmsg.Message) string {
	var b strings.Builder
	h := m.Header
	fmt.Fprintf(&b, "nlmsghdr (%d):\n", nlmsg.HeaderLen)
	fmt.Fprintf(&b, "  len=%d type=%d flags=%#x seq=%d port=%d\n", h.Length, h.Type, h.Flags, h.Seq, h.Port)

	gh, err := ParseHeader(m.Data)
	if err != nil {
		fmt.Fprintf(&b, "genlmsghdr: %v\n", err)
		return b.String()
	}
	fmt.Fprintf(&b, "genlmsghdr (%d):\n", HeaderLen)
	fmt.Fprintf(&b, "  cmd=%d version=%d reserved=%d\n", gh.Command, gh.Version, gh.Reserved)

	attrs, err := attr.Unmarshal(m.Data[HeaderLen:])
	if err != nil {
		fmt.Fprintf(&b, "nlattr: %v\n", err)
		return b.String()
	}
	for _, a := range attrs {
		fmt.Fprintf(&b, "nlattr (%d):\n", a.Len())
		fmt.Fprintf(&b, "  len=%d type=%d nested=%v\n", len(a.Data), a.Type, a.Nested)
		dumpBytes(&b, a.Data)
		if pad := a.Size() - a.Len(); pad > 0 {
			fmt.Fprintf(&b, "nlattr pad (%d)\n", pad)
		}
	}
	return b.String()
}

func dumpBytes(b *strings.Builder, data []byte) {
	for i := 0; i < len(data); i += dumpColumns {
		row := data[i:min(i+dumpColumns, len(data))]
		b.WriteString("  ")
		for j := 0; j < dumpColumns; j++ {
			if j < len(row) {
				fmt.Fprintf(b, "%02x ", row[j])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteByte('\t')
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
}
