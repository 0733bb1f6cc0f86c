package bridge

import "testing"

type benchParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	Length    int64   `json:"dataLength"`
}

func benchmarkSendAck(b *testing.B, codec Codec) {
	br := New(TransportFunc(func([]byte) error { return nil }), WithCodec(codec))
	params := benchParams{RequestID: "client-1", Timestamp: 1712.5, Length: 4096}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := br.Send("Network.dataReceived", params)
		if err != nil {
			b.Fatal(err)
		}
		if i%64 == 0 {
			br.Ack(id)
		}
	}
}

func BenchmarkBridge_SendAck_JSON(b *testing.B) { benchmarkSendAck(b, JSON) }
func BenchmarkBridge_SendAck_CBOR(b *testing.B) { benchmarkSendAck(b, CBOR) }
