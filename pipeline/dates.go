package pipeline

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	lru "github.com/hashicorp/golang-lru/v2"
)

type parsedDate struct {
	ts time.Time
	ok bool
}

// DateParser 日期解析器，带结果缓存
type DateParser struct {
	cache *lru.Cache[string, parsedDate]
}

// NewDateParser 创建日期解析器，size<=0 时不缓存
func NewDateParser(size int) *DateParser {
	p := &DateParser{}
	if size > 0 {
		cache, err := lru.New[string, parsedDate](size)
		if err == nil {
			p.cache = cache
		}
	}
	return p
}

// Parse 解析任意常见日期格式，失败返回 false
func (p *DateParser) Parse(value string) (time.Time, bool) {
	if p.cache != nil {
		if hit, ok := p.cache.Get(value); ok {
			return hit.ts, hit.ok
		}
	}

	ts, ok := parseDate(value)
	if p.cache != nil {
		p.cache.Add(value, parsedDate{ts: ts, ok: ok})
	}
	return ts, ok
}

func parseDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	if isDigits(trimmed) {
		return parseDigits(trimmed)
	}
	ts, err := dateparse.ParseIn(trimmed, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// digitLayouts 纯数字日期按长度取格式，其余长度（如 10/13 位 epoch）不当作日期
var digitLayouts = map[int]string{
	4:  "2006",
	6:  "200601",
	8:  "20060102",
	12: "200601021504",
	14: "20060102150405",
}

func parseDigits(value string) (time.Time, bool) {
	layout, ok := digitLayouts[len(value)]
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
