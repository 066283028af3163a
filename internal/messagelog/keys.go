package messagelog

import (
	"encoding/binary"
)

var (
	nsPrefix = []byte("ns/")
	busSeg   = []byte("/bus/")
)

func keyPrefix(namespace string) []byte {
	k := make([]byte, 0, len(namespace)+8)
	k = append(k, nsPrefix...)
	k = append(k, namespace...)
	k = append(k, busSeg...)
	return k
}

// keyMeta holds lastID (8B BE) followed by the last created_at ms (8B BE).
func keyMeta(namespace string) []byte {
	return append(keyPrefix(namespace), 'm')
}

func entryPrefix(namespace string) []byte {
	return append(keyPrefix(namespace), 'e', '/')
}

func keyEntry(namespace string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(entryPrefix(namespace), id)
}

// channelPrefix length-prefixes the channel so that "a" and "a/b" never share
// a scan range.
func channelPrefix(namespace, channel string) []byte {
	k := append(keyPrefix(namespace), 'c', '/')
	k = binary.BigEndian.AppendUint32(k, uint32(len(channel)))
	k = append(k, channel...)
	return append(k, '/')
}

func keyChannel(namespace, channel string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(channelPrefix(namespace, channel), id)
}

func timePrefix(namespace string) []byte {
	return append(keyPrefix(namespace), 't', '/')
}

func keyTime(namespace string, ms int64, id uint64) []byte {
	k := binary.BigEndian.AppendUint64(timePrefix(namespace), uint64(ms))
	return binary.BigEndian.AppendUint64(k, id)
}

// upperBound returns the smallest key greater than every key with prefix p.
func upperBound(p []byte) []byte {
	out := append([]byte(nil), p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func idSuffix(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
