package service

import (
	"regexp"
)

// X 按 twitter-text v3 规则计算长度：下列区间内的字符计 1，其余（CJK、emoji 等）计 2，
// 每个链接固定计 23。
const xURLWeight = 23

var xLightRanges = [][2]rune{
	{0, 4351},
	{8192, 8205},
	{8208, 8223},
	{8242, 8247},
}

var postURLPattern = regexp.MustCompile(`https?://\S+`)

// runeWeight 返回单个字符在 X 上占用的长度。
func runeWeight(r rune) int {
	for _, rg := range xLightRanges {
		if r >= rg[0] && r <= rg[1] {
			return 1
		}
	}
	return 2
}

func weightOf(text string) int {
	n := 0
	for _, r := range text {
		n += runeWeight(r)
	}
	return n
}

// PostLength 返回文本在 X 上的计数长度，字符上限按此值校验。
func PostLength(text string) int {
	n := 0
	last := 0
	for _, loc := range postURLPattern.FindAllStringIndex(text, -1) {
		n += weightOf(text[last:loc[0]]) + xURLWeight
		last = loc[1]
	}
	return n + weightOf(text[last:])
}
