package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// 默认分块参数（按字符计，与嵌入模型无关，保证确定性）
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var paragraphSplitPattern = regexp.MustCompile(`\n\n+`)

// 句末标点（含全角句号）后跟空白视为句子边界
var sentenceBoundaryPattern = regexp.MustCompile(`([.!?。])\s+`)

// Chunker 文本分块器。长度均按 rune 计，中文、韩文等多字节文本不会被截断在字符中间。
type Chunker struct {
	ChunkSize    int // 单个分块的最大字符数
	ChunkOverlap int // 相邻分块的重叠字符数
}

// NewChunker 创建分块器。非法参数回落到默认值。
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Chunker{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Chunk 将文本切分为带元数据的分块序列。
//
// 分割策略:
// 1. 先按段落边界（空行）分割
// 2. 超长段落再按句子边界分割
// 3. 句子仍超长时按固定长度强制切断
// 4. 相邻段落/句子贪心合并至不超过 ChunkSize
// 5. 相邻分块之间应用重叠
//
// 空文本返回 nil；不超过 ChunkSize 的文本返回单个分块。
// 所有分块共享同一份 metadata，Index 从 0 开始连续递增。
func (c *Chunker) Chunk(text string, metadata ChunkMetadata) []TextChunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if runeLen(trimmed) <= c.ChunkSize {
		return []TextChunk{{Text: trimmed, Index: 0, Metadata: metadata}}
	}

	// 1. 段落分割
	paragraphs := splitByParagraphs(trimmed)

	// 2. 超长段落按句子分割
	segments := make([]string, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		if runeLen(paragraph) <= c.ChunkSize {
			segments = append(segments, paragraph)
		} else {
			segments = append(segments, splitBySentences(paragraph)...)
		}
	}

	// 3. 贪心合并
	rawChunks := mergeSegmentsIntoChunks(segments, c.ChunkSize)

	// 4. 重叠
	overlapped := applyOverlap(rawChunks, c.ChunkSize, c.ChunkOverlap)

	chunks := make([]TextChunk, len(overlapped))
	for i, chunkText := range overlapped {
		chunks[i] = TextChunk{Text: chunkText, Index: i, Metadata: metadata}
	}
	return chunks
}

// splitByParagraphs 按空行分割为段落，去掉空段落并修剪首尾空白。
func splitByParagraphs(text string) []string {
	parts := paragraphSplitPattern.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitBySentences 按句末标点后的空白分割为句子，去掉空句。
func splitBySentences(text string) []string {
	marked := sentenceBoundaryPattern.ReplaceAllString(text, "$1\x1f")
	parts := strings.Split(marked, "\x1f")
	sentences := make([]string, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// mergeSegmentsIntoChunks 把片段贪心合并为不超过 chunkSize 的分块。
// 单个片段超过 chunkSize 时按固定长度强制切断（此回退不考虑词边界）。
func mergeSegmentsIntoChunks(segments []string, chunkSize int) []string {
	chunks := make([]string, 0, len(segments))
	current := ""

	for _, segment := range segments {
		if runeLen(segment) > chunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}
			remaining := []rune(segment)
			for len(remaining) > chunkSize {
				chunks = append(chunks, string(remaining[:chunkSize]))
				remaining = remaining[chunkSize:]
			}
			if len(remaining) > 0 {
				current = string(remaining)
			}
			continue
		}

		candidate := segment
		if current != "" {
			candidate = current + " " + segment
		}

		if runeLen(candidate) <= chunkSize {
			current = candidate
		} else {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = segment
		}
	}

	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	return chunks
}

// applyOverlap 在第 i>0 个分块前面拼接上一个分块的最后 chunkOverlap 个字符。
// 拼接后超过 chunkSize 时从尾部截断。
func applyOverlap(chunks []string, chunkSize, chunkOverlap int) []string {
	if len(chunks) <= 1 || chunkOverlap <= 0 {
		return chunks
	}

	result := make([]string, 0, len(chunks))
	result = append(result, chunks[0])

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		start := len(prev) - chunkOverlap
		if start < 0 {
			start = 0
		}
		combined := []rune(string(prev[start:]) + chunks[i])

		if len(combined) > chunkSize {
			combined = combined[:chunkSize]
		}
		result = append(result, string(combined))
	}

	return result
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
