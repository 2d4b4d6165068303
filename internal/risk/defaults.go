package risk

// DefaultKeywords returns the built-in Traditional Chinese keyword sets, with a
// few English equivalents for mixed-language sessions. English entries match
// whole words only.
func DefaultKeywords() Keywords {
	return Keywords{
		Red: []string{
			"打死", "殺死", "殺了", "砍死", "弄死", "去死", "想死", "自殺",
			"不想活", "活不下去", "結束生命", "傷害自己", "割腕", "跳樓", "同歸於盡",
			"kill", "suicide",
		},
		Yellow: []string{
			"生氣", "憤怒", "火大", "氣死", "煩死", "受不了", "討厭", "壓力",
			"崩潰", "吵架", "焦慮", "失眠", "委屈", "恨",
			"angry", "stressed",
		},
		Positive: []string{
			"謝謝", "好多了", "開心", "放鬆", "感謝", "平靜", "安心", "進步",
			"thanks", "thank you",
		},
	}
}
