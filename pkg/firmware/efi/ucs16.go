package efi

import (
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// UTF8ToUCS16 encodes s as NUL-terminated UTF-16LE, the form variable names
// take in firmware stores.
func UTF8ToUCS16(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Op: "encode name", Msg: s, Err: err}
	}
	return append(b, 0, 0), nil
}

// UCS16ToUTF8 decodes NUL-terminated UTF-16LE starting at data[0]. It
// returns the string and the number of bytes consumed, terminator included.
func UCS16ToUTF8(data []byte) (string, int, error) {
	end := -1
	for i := 0; i+1 < len(data); i += 2 {
		if data[i] == 0 && data[i+1] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", 0, &Error{Kind: KindParse, Op: "decode name", Msg: "missing NUL terminator"}
	}
	s, err := utf16le.NewDecoder().Bytes(data[:end])
	if err != nil {
		return "", 0, &Error{Kind: KindParse, Op: "decode name", Err: err}
	}
	return string(s), end + 2, nil
}
