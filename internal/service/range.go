// range.go — разбор заголовка Range: bytes=START-END | bytes=START- | bytes=-N.
package service

import (
	"strconv"
	"strings"
)

// RangeResult — итог разбора заголовка Range.
type RangeResult int

const (
	// RangeFull — заголовка нет или он некорректен: отдаётся весь файл
	RangeFull RangeResult = iota
	// RangePartial — выполнимый диапазон
	RangePartial
	// RangeUnsatisfiable — диапазон вне файла (416)
	RangeUnsatisfiable
)

// ByteRange — диапазон байтов [Start, End] включительно.
type ByteRange struct {
	Start int64
	End   int64
}

// Length — число байтов в диапазоне.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange разбирает заголовок Range для файла размером total.
// Поддерживается один диапазон; ключевое слово bytes чувствительно к регистру.
// Некорректный синтаксис не ошибка: возвращается RangeFull.
func ParseRange(header string, total int64) (ByteRange, RangeResult) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(byteRange, ",") {
		return ByteRange{}, RangeFull
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(byteRange), "-")
	if !ok {
		return ByteRange{}, RangeFull
	}

	// bytes=-N — последние N байт
	if startStr == "" {
		n, ok := parseDigits(endStr)
		if !ok {
			return ByteRange{}, RangeFull
		}
		start := total - n
		if start < 0 {
			start = 0
		}
		return checkRange(ByteRange{Start: start, End: total - 1}, total)
	}

	start, ok := parseDigits(startStr)
	if !ok {
		return ByteRange{}, RangeFull
	}

	// bytes=START-
	if endStr == "" {
		return checkRange(ByteRange{Start: start, End: total - 1}, total)
	}

	end, ok := parseDigits(endStr)
	if !ok {
		return ByteRange{}, RangeFull
	}
	if start > end {
		return ByteRange{}, RangeUnsatisfiable
	}
	if end >= total {
		end = total - 1
	}
	return checkRange(ByteRange{Start: start, End: end}, total)
}

func checkRange(r ByteRange, total int64) (ByteRange, RangeResult) {
	if r.Start >= total || r.Start > r.End {
		return ByteRange{}, RangeUnsatisfiable
	}
	return r, RangePartial
}

// parseDigits принимает только непустую последовательность цифр
// (без знака и пробелов).
func parseDigits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
