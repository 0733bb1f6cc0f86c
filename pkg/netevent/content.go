package netevent

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/htmlindex"
)

// textApplicationTypes are the application/* media types decoded as text.
var textApplicationTypes = map[string]struct{}{
	"application/json":                  {},
	"application/javascript":            {},
	"application/x-javascript":          {},
	"application/ecmascript":            {},
	"application/xml":                   {},
	"application/x-www-form-urlencoded": {},
	"application/graphql":               {},
	"application/x-ndjson":              {},
	"application/x-yaml":                {},
	"application/yaml":                  {},
	"application/sql":                   {},
}

// MediaType returns the lowercased media type of a Content-Type header value,
// or "" if it is missing or unparsable.
func MediaType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

// ShouldDecodeAsText reports whether a body with the given Content-Type is
// read as text. text/* and a fixed set of text-like application types are;
// everything else, including a missing or unparsable header, is not.
func ShouldDecodeAsText(contentType string) bool {
	mediaType := MediaType(contentType)
	if mediaType == "" {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	if !strings.HasPrefix(mediaType, "application/") {
		return false
	}
	if _, ok := textApplicationTypes[mediaType]; ok {
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// Charset returns the charset parameter of a Content-Type header value.
func Charset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// Decompress undoes a Content-Encoding. Output is capped at limit bytes;
// longer output is an error.
func Decompress(data []byte, contentEncoding string, limit int64) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	var r io.Reader
	switch encoding {
	case "", "identity":
		return data, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case "deflate":
		// HTTP deflate is zlib-wrapped in practice, but some servers send
		// raw deflate streams.
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(data))
			defer func() { _ = fr.Close() }()
			r = fr
		} else {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", encoding, err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDecodedTooLarge, limit)
	}
	return out, nil
}

// ToUTF8 converts data from the charset declared in contentType to UTF-8.
// Unknown charsets are treated as UTF-8; invalid sequences are replaced.
func ToUTF8(data []byte, contentType string) string {
	charset := Charset(contentType)
	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return toValidUTF8(string(data))
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return toValidUTF8(string(data))
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return toValidUTF8(string(data))
	}
	return toValidUTF8(string(decoded))
}

func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
