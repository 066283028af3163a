package messagelog

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

func decodeRecord(b []byte) (header, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen > uint64(len(b)) || n+int(hlen)+4 > len(b) {
		return nil, nil, false
	}
	header = b[n : n+int(hlen)]
	payload = b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, false
	}
	return header, payload, true
}

func encodeMessage(ms int64, channel string, payload []byte) []byte {
	h := make([]byte, 0, 8+len(channel))
	h = binary.BigEndian.AppendUint64(h, uint64(ms))
	h = append(h, channel...)
	return encodeRecord(h, payload)
}

// decodeMessage copies out of b so the result outlives the iterator that
// produced it.
func decodeMessage(id uint64, b []byte) (Message, bool) {
	header, payload, ok := decodeRecord(b)
	if !ok || len(header) < 8 {
		return Message{}, false
	}
	ms := int64(binary.BigEndian.Uint64(header[:8]))
	return Message{
		ID:        id,
		CreatedAt: time.UnixMilli(ms),
		Channel:   string(header[8:]),
		Payload:   append([]byte(nil), payload...),
	}, true
}
