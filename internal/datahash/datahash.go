// Package datahash computes the content hash registered alongside data records.
//
// A string is hashed as is. An object is hashed over its canonical JSON form:
// keys sorted, ", " and ": " separators, non-ASCII escaped as \uXXXX.
// Integers are written as sent. Fractional or exponent numbers are rewritten
// to the shortest round-trip form: "100000.0" for 1.0e5, and exponent form
// ("1e+16", "1e-05") outside [1e-4, 1e16).
package datahash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrUnsupported is returned for input that is neither a string nor an object.
var ErrUnsupported = errors.New("data must be a string or a JSON object")

// Hex returns the sha256 hex digest of v.
func Hex(v interface{}) (string, error) {
	payload, err := Prepare(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// HexJSON hashes a JSON document whose top level is a string or an object.
func HexJSON(raw []byte) (string, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return "", err
	}
	return Hex(v)
}

// decodeJSON keeps numbers as text so large integers survive exactly.
func decodeJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return v, nil
}

// Prepare returns the exact text that Hex digests.
func Prepare(v interface{}) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case map[string]interface{}:
		var buf bytes.Buffer
		if err := writeValue(&buf, value); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: got %T", ErrUnsupported, v)
	}
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, value)
	case json.Number:
		writeNumber(buf, value.String())
	case float64:
		writeFloat(buf, value)
	case int:
		buf.WriteString(strconv.Itoa(value))
	case int64:
		buf.WriteString(strconv.FormatInt(value, 10))
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeString(buf, key)
			buf.WriteString(": ")
			if err := writeValue(buf, value[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported value %T", ErrUnsupported, v)
	}
	return nil
}

func writeNumber(buf *bytes.Buffer, n string) {
	if !strings.ContainsAny(n, ".eE") {
		if n == "-0" {
			n = "0"
		}
		buf.WriteString(n)
		return
	}
	// ParseFloat saturates to ±Inf on overflow; the error is not needed.
	f, _ := strconv.ParseFloat(n, 64)
	writeFloat(buf, f)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsInf(f, 1):
		buf.WriteString("Infinity")
		return
	case math.IsInf(f, -1):
		buf.WriteString("-Infinity")
		return
	case math.IsNaN(f):
		buf.WriteString("NaN")
		return
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	if exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:]); f != 0 && (exp < -4 || exp >= 16) {
		buf.WriteString(sci)
		return
	}
	text := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	buf.WriteString(text)
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || r == utf8.RuneError:
				fmt.Fprintf(buf, `\u%04x`, r)
			case r < utf8.RuneSelf:
				buf.WriteRune(r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(buf, `\u%04x`, r)
			}
		}
	}
	buf.WriteByte('"')
}
