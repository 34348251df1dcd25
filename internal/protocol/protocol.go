// Package protocol implements the colon-delimited, line-continuation
// request/response grammar described in payproc's wire specification: a
// status line followed by zero or more "Name: value" data lines, terminated
// by an empty line.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
)

// MaxLineLen is the maximum accepted octet length of a single line,
// including the terminating line feed.
const MaxLineLen = 2048

// Request is a parsed client command: a command name, trailing arguments on
// the status line, and a dictionary of data items.
type Request struct {
	Command string
	Args    string
	Data    *keyvalue.Dict
}

// ReadRequest reads one request from r. Names on data lines are normalized
// (capitalize_name semantics) and must begin with an uppercase letter;
// internal ("_"-prefixed) names are rejected.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, err
	}
	command, args := splitStatusLine(statusLine)

	data := keyvalue.New()
	if err := readDataLines(r, data, true); err != nil {
		return nil, err
	}
	return &Request{Command: command, Args: args, Data: data}, nil
}

func splitStatusLine(line string) (cmd, args string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i+1:], " \t")
}

// Response is a parsed or about-to-be-written server reply.
type Response struct {
	OK       bool
	Code     int
	Text     string
	Data     *keyvalue.Dict
}

// OKResponse builds a successful response carrying data.
func OKResponse(text string, data *keyvalue.Dict) *Response {
	if data == nil {
		data = keyvalue.New()
	}
	return &Response{OK: true, Text: text, Data: data}
}

// ErrResponse builds an error response with a protocol error code.
func ErrResponse(e *perr.Error, data *keyvalue.Dict) *Response {
	if data == nil {
		data = keyvalue.New()
	}
	return &Response{OK: false, Code: e.Code, Text: e.Desc, Data: data}
}

// WriteTo serializes resp as status line, data lines and the terminating
// empty line.
func (resp *Response) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if resp.OK {
		if resp.Text != "" {
			fmt.Fprintf(bw, "OK %s\n", resp.Text)
		} else {
			fmt.Fprint(bw, "OK\n")
		}
	} else {
		fmt.Fprintf(bw, "ERR %d (%s)\n", resp.Code, resp.Text)
	}
	for _, p := range resp.Data.Pairs() {
		writeDataLine(bw, p.Name, p.Value)
	}
	fmt.Fprint(bw, "\n")
	return bw.Flush()
}

func writeDataLine(w *bufio.Writer, name, value string) {
	w.WriteString(name)
	w.WriteString(": ")
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\n' {
			if i+1 < len(value) {
				w.WriteString("\n ")
			}
		} else {
			w.WriteByte(c)
		}
	}
	w.WriteByte('\n')
}

// ReadResponse reads a response from r (case-preserving parse, no name
// filtering), for use by code that talks this protocol as a client (not
// used over the Unix socket itself, but shared for symmetry and tests).
func ReadResponse(r *bufio.Reader) (*Response, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, err
	}
	data := keyvalue.New()
	if err := readDataLines(r, data, false); err != nil {
		return nil, err
	}

	resp := &Response{Data: data}
	switch {
	case statusLine == "OK" || strings.HasPrefix(statusLine, "OK "):
		resp.OK = true
		if len(statusLine) > 2 {
			resp.Text = strings.TrimPrefix(statusLine[2:], " ")
		}
	case strings.HasPrefix(statusLine, "ERR "):
		rest := strings.TrimPrefix(statusLine, "ERR ")
		var n int
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return nil, perr.ProtocolViolation
		}
		n, _ = strconv.Atoi(rest[:i])
		resp.Code = n
		resp.OK = false
		rest = strings.TrimSpace(rest[i:])
		rest = strings.TrimPrefix(rest, "(")
		rest = strings.TrimSuffix(rest, ")")
		resp.Text = rest
	default:
		return nil, perr.InvResponse
	}
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", perr.EOFErr
		}
		if err == io.EOF {
			return "", perr.EOFErr
		}
		return "", err
	}
	if len(line) > MaxLineLen {
		return "", perr.Truncated
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func readDataLines(r *bufio.Reader, data *keyvalue.Dict, filter bool) error {
	var lastName string
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		if line[0] == '#' {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastName == "" {
				return perr.ProtocolViolation
			}
			data.AppendNL(lastName, line[1:])
			continue
		}
		name, value, err := parseDataLine(line, filter)
		if err != nil {
			return err
		}
		if data.Has(name) {
			return perr.ProtocolViolation
		}
		data.Set(name, value)
		lastName = name
	}
}

func parseDataLine(line string, filter bool) (name, value string, err error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", perr.ProtocolViolation
	}
	name = line[:colon]
	if filter {
		name = capitalizeName(name)
		if name == "" || name[0] < 'A' || name[0] > 'Z' {
			return "", "", perr.InvName
		}
	}
	value = strings.TrimLeft(line[colon+1:], " \t")
	return name, value, nil
}

// capitalizeName uppercases the first letter and the first letter after
// each '-', lowercases everything else, leaving bracketed "[...]" segments
// untouched — mirroring capitalize_name exactly.
func capitalizeName(name string) string {
	b := []byte(name)
	first := true
	bracket := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case bracket > 0:
			if c == ']' {
				bracket--
			}
		case c == '[':
			bracket++
		case c == '-':
			first = true
		case first:
			if c >= 'a' && c <= 'z' {
				b[i] = c - 'a' + 'A'
			}
			first = false
		default:
			if c >= 'A' && c <= 'Z' {
				b[i] = c - 'A' + 'a'
			}
		}
	}
	return string(b)
}
