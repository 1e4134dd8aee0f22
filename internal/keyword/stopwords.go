package keyword

func defaultStopwords() map[string]struct{} {
	stops := []string{
		// english
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "which", "who", "whom",
		"what", "when", "where", "why", "how", "all", "each", "some",
		"such", "than", "too", "very", "just", "also",
		// chinese function words, as bigrams
		"什么", "如何", "怎么", "怎样", "哪些", "哪个", "是否", "关于",
		"以及", "或者", "还是", "就是", "这个", "那个", "这些", "那些",
		"我们", "你们", "他们", "请问", "一下", "一个", "问题", "可以",
		"因为", "所以", "但是", "如果", "虽然",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}

// defaultStopChars are particles that never belong to a legal term.
func defaultStopChars() map[rune]struct{} {
	chars := []rune{'的', '了', '吗', '呢', '吧', '啊', '呀', '么', '着', '过'}
	m := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		m[r] = struct{}{}
	}
	return m
}
