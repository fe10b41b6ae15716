package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/ceyewan/fieldops/xerrors"
)

// Fingerprint 计算结构化请求内容的指纹：规范化 JSON 的 sha256 十六进制串。
//
// 规范形式：对象键按字节序排列，无多余空白；int64 范围内的整数值按十进制输出，
// 其余数字按 FormatFloat('g', -1) 输出，因此 10、10.0、1e1 指纹相同，1e6 与 1000000 相同；
// 字符串与键统一为 NFC 且不做 HTML 转义；数组保持顺序。
func Fingerprint(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.Wrap(err, "idempotency: marshal payload")
	}
	return FingerprintJSON(raw)
}

// FingerprintJSON 与 Fingerprint 相同，但从原始 JSON 开始。空内容视为 null。
func FingerprintJSON(raw []byte) (string, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize 返回 raw 的规范 JSON 形式
func Canonicalize(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "idempotency: invalid json: "+err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "idempotency: trailing data after json value")
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		s, err := canonicalNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case string:
		writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		// 按规范化后的键排序，组合字符与预组字符写成的同一个键位置一致
		keys := make(map[string]string, len(val))
		sorted := make([]string, 0, len(val))
		for k := range val {
			nk := norm.NFC.String(k)
			keys[nk] = k
			sorted = append(sorted, nk)
		}
		sort.Strings(sorted)

		buf.WriteByte('{')
		for i, nk := range sorted {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, nk)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[keys[nk]]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "idempotency: unexpected json type %T", v)
	}
	return nil
}

func canonicalNumber(n json.Number) (string, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", xerrors.Wrapf(xerrors.ErrInvalidInput, "idempotency: number %s out of range", n.String())
	}
	if f == 0 {
		// -0 与 0 视为同一个值
		return "0", nil
	}
	// 1e6、1000000.0 这类整数值与 1000000 同形
	if f == math.Trunc(f) && f >= math.MinInt64 && f < -math.MinInt64 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(norm.NFC.String(s))
	// Encode 会追加换行
	buf.Truncate(buf.Len() - 1)
}
