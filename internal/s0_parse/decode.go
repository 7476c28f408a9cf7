package s0_parse

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/wonny/heatrank/backend/internal/contracts"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeLine returns raw as text. Valid UTF-8 passes through; anything else
// is decoded as GB18030 (superset of GBK/GB2312, what exchange terminals
// export). Bytes neither encoding accepts yield an EncodingError.
func DecodeLine(raw []byte, lineNo int) (string, error) {
	if lineNo == 1 {
		raw = bytes.TrimPrefix(raw, utf8BOM)
	}

	if utf8.Valid(raw) {
		return string(raw), nil
	}

	out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &contracts.EncodingError{Line: lineNo, Reason: "not utf-8 and not gb18030: " + err.Error()}
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", &contracts.EncodingError{Line: lineNo, Reason: "not utf-8 and not gb18030"}
	}

	return string(out), nil
}
