package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Collector 抽象网页内容采集，便于流水线测试时替换实现。
type Collector interface {
	Collect(ctx context.Context, url string) (*CollectedContent, error)
}

// 采集请求默认超时，避免单个坏源挂起整轮索引
const defaultCollectTimeout = 30 * time.Second

const collectorUserAgent = "Mozilla/5.0 (compatible; KnowledgeCollector/1.0)"

// 需要整块移除的标签（含嵌套内容）
var unwantedTagPatterns = buildUnwantedTagPatterns([]string{
	"script", "style", "nav", "footer", "header", "noscript", "svg", "iframe",
})

// 块级标签统一替换为换行
var blockTagPattern = regexp.MustCompile(
	`(?i)</?(?:br|p|div|li|h[1-6]|tr|blockquote|section|article|aside|main)[^>]*>`)

var (
	anyTagPattern        = regexp.MustCompile(`<[^>]*>`)
	titleTagPattern      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	spaceRunPattern      = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRunPattern    = regexp.MustCompile(`\n{3,}`)
	decimalEntityPattern = regexp.MustCompile(`&#(\d+);`)
	hexEntityPattern     = regexp.MustCompile(`&#[xX]([0-9a-fA-F]+);`)
)

// 固定的命名实体解码表。替换按声明顺序执行，&amp; 必须最先处理。
var namedEntities = []struct {
	entity string
	char   string
}{
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&#39;", "'"},
	{"&apos;", "'"},
	{"&nbsp;", " "},
	{"&copy;", "©"},
	{"&reg;", "®"},
	{"&trade;", "™"},
	{"&mdash;", "—"},
	{"&ndash;", "–"},
	{"&laquo;", "«"},
	{"&raquo;", "»"},
	{"&hellip;", "…"},
}

func buildUnwantedTagPatterns(tags []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		patterns = append(patterns,
			regexp.MustCompile(`(?is)<`+tag+`[^>]*>.*?</`+tag+`>`))
	}
	return patterns
}

// HTTPCollector 基于 net/http 的采集器实现。
type HTTPCollector struct {
	client *http.Client
}

// NewHTTPCollector 创建采集器。client 为 nil 时使用带 30 秒超时的默认客户端。
func NewHTTPCollector(client *http.Client) *HTTPCollector {
	if client == nil {
		client = &http.Client{Timeout: defaultCollectTimeout}
	}
	return &HTTPCollector{client: client}
}

// Collect 抓取 URL 并清洗出正文文本。
// 网络失败或非 2xx 状态码都会返回错误。
func (c *HTTPCollector) Collect(ctx context.Context, url string) (*CollectedContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造采集请求失败: %w", err)
	}
	req.Header.Set("User-Agent", collectorUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("无法访问 URL %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	html := string(body)
	title := ExtractTitle(html)
	if title == "" {
		title = url
	}
	text := HTMLToText(html)

	return &CollectedContent{
		URL:         url,
		Title:       title,
		Text:        text,
		ContentHash: GenerateContentHash(text),
		CollectedAt: time.Now(),
	}, nil
}

// ExtractTitle 提取 <title> 标签内容，未找到时返回空串。
func ExtractTitle(html string) string {
	match := titleTagPattern.FindStringSubmatch(html)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// HTMLToText 将 HTML 清洗为纯文本：
// 先整块移除无用元素，再把块级标签换成换行，剥掉剩余标签，
// 解码实体，最后收敛空白。
func HTMLToText(html string) string {
	text := RemoveUnwantedElements(html)

	text = blockTagPattern.ReplaceAllString(text, "\n")
	text = anyTagPattern.ReplaceAllString(text, "")
	text = DecodeHTMLEntities(text)

	// 非换行空白收敛为单个空格，换行保留
	text = spaceRunPattern.ReplaceAllString(text, " ")
	// 连续换行最多保留两个
	text = newlineRunPattern.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RemoveUnwantedElements 整块移除 script/style/nav 等元素，嵌套内容一并去掉。
func RemoveUnwantedElements(html string) string {
	result := html
	for _, pattern := range unwantedTagPatterns {
		result = pattern.ReplaceAllString(result, "")
	}
	return result
}

// DecodeHTMLEntities 解码固定表内的命名实体以及十进制/十六进制数字实体。
func DecodeHTMLEntities(text string) string {
	result := text
	for _, e := range namedEntities {
		result = strings.ReplaceAll(result, e.entity, e.char)
	}

	result = decimalEntityPattern.ReplaceAllStringFunc(result, func(m string) string {
		code, err := strconv.ParseInt(m[2:len(m)-1], 10, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	result = hexEntityPattern.ReplaceAllStringFunc(result, func(m string) string {
		code, err := strconv.ParseInt(m[3:len(m)-1], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})

	return result
}

// GenerateContentHash 计算清洗后文本的 SHA-256 摘要，用于变更检测。
func GenerateContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
