package replication

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The wire format is the textual length-prefixed multi-token protocol the
// peer nodes speak: an array of bulk strings. Both streaming commands
// (set/del/expireat) and the trysync handshake use it.

// SerializeCommand encodes args as an array of bulk strings.
func SerializeCommand(args ...string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return b.Bytes()
}

// readReply parses one reply from r. Simple strings, errors, and integers
// come back as a single token; bulk strings and arrays of bulk strings as
// their elements. Error replies are returned as tokens, not Go errors:
// callers compare the first token against what they expect.
func readReply(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("replication: empty reply line")
	}

	switch line[0] {
	case '+', '-', ':':
		return []string{line[1:]}, nil
	case '$':
		token, err := readBulk(r, line)
		if err != nil {
			return nil, err
		}
		return []string{token}, nil
	case '*':
		count, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("replication: bad array header %q", line)
		}
		if count < 0 {
			return nil, nil
		}
		tokens := make([]string, 0, count)
		for i := 0; i < count; i++ {
			header, err := readLine(r)
			if err != nil {
				return nil, err
			}
			if len(header) == 0 || header[0] != '$' {
				return nil, fmt.Errorf("replication: expected bulk string, got %q", header)
			}
			token, err := readBulk(r, header)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token)
		}
		return tokens, nil
	default:
		// Inline command form: space-separated tokens.
		return strings.Fields(line), nil
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readBulk(r *bufio.Reader, header string) (string, error) {
	length, err := strconv.Atoi(header[1:])
	if err != nil {
		return "", fmt.Errorf("replication: bad bulk header %q", header)
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2) // payload + CRLF
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}
