package mailbox

import (
	"io"
	"mime"
	"strings"

	charset "github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func init() {
	// Register GBK so go-message can decode bodies from QQ/163 mailboxes;
	// without this decoding fails with `unhandled charset "gbk"`.
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
}

// headerDecoder decodes RFC 2047 encoded words. Chinese mail providers mix
// GBK/GB2312 with UTF-8 in a single header, and sometimes declare charsets
// the registry does not know; an unknown charset falls back to GBK rather
// than failing the whole header.
var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, r io.Reader) (io.Reader, error) {
		switch strings.ToLower(strings.TrimSpace(cs)) {
		case "gbk", "gb2312", "gb18030":
			return simplifiedchinese.GBK.NewDecoder().Reader(r), nil
		}
		decoded, err := charset.Reader(cs, r)
		if err != nil {
			return simplifiedchinese.GBK.NewDecoder().Reader(r), nil
		}
		return decoded, nil
	},
}

// DecodeHeader resolves RFC 2047 encoded words in a raw header value.
// Undecodable input is returned as-is rather than dropped.
func DecodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
