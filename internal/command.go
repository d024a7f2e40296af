package internal

import (
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// EncodeCommand renders name and args as a single protocol line:
// the fields joined by one space and terminated by '\n'.
//
// With ArgsRaw nothing is escaped, so an argument holding a space or a newline
// changes how the server splits the line. ArgsReject refuses such arguments and
// ArgsQuote wraps them in double quotes, which only servers that understand quoted
// strings accept.
func EncodeCommand(policy ArgPolicy, name string, args ...string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return nil, fmt.Errorf("%w: command name %q", ErrInvalidArgument, name)
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	bb.WriteString(name)
	for _, a := range args {
		bb.WriteByte(' ')
		switch policy {
		case ArgsReject:
			if a == "" || strings.ContainsAny(a, " \t\r\n") {
				return nil, fmt.Errorf("%w: %q", ErrInvalidArgument, a)
			}
			bb.WriteString(a)
		case ArgsQuote:
			if strings.ContainsAny(a, "\r\n") {
				return nil, fmt.Errorf("%w: %q contains a line break", ErrInvalidArgument, a)
			}
			if a == "" || strings.ContainsAny(a, " \t\"") {
				bb.WriteByte('"')
				bb.WriteString(strings.ReplaceAll(a, `"`, `\"`))
				bb.WriteByte('"')
			} else {
				bb.WriteString(a)
			}
		default:
			bb.WriteString(a)
		}
	}
	bb.WriteByte('\n')

	out := make([]byte, bb.Len())
	copy(out, bb.B)
	return out, nil
}
