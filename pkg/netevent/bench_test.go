package netevent

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func BenchmarkDecodeBody_GzipJSON(b *testing.B) {
	raw := []byte(`{"items":[` + strings.Repeat(`{"id":1,"name":"widget"},`, 2000) + `{}]}`)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(raw)
	_ = zw.Close()
	compressed := buf.Bytes()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeBody(compressed, "application/json; charset=utf-8", "gzip", DefaultPolicy()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPolicyApply_Truncates(b *testing.B) {
	text := strings.Repeat("é", 300_000)
	p := DefaultPolicy()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Apply(text)
	}
}
