package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"llm-backend/internal/knowledge"
)

// 离线索引工具：不经过 HTTP 层，直接跑一轮索引流水线。
// 适合在部署后批量重建索引或在 CI 中预热知识库。
func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	urls := flag.String("urls", "", "仅索引这些 URL（逗号分隔），留空表示全部")
	force := flag.Bool("force", false, "跳过内容哈希比对，无条件重建")
	flag.Parse()

	deps, err := buildPipeline(*env)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx := context.Background()
	registered, err := deps.store.GetAllSources(ctx)
	if err != nil {
		log.Fatalf("获取知识源列表失败: %v", err)
	}

	wanted := map[string]bool{}
	for _, u := range strings.Split(*urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			wanted[u] = true
		}
	}

	var sources []*knowledge.KnowledgeSource
	for _, s := range registered {
		if len(wanted) > 0 && !wanted[s.URL] {
			continue
		}
		source := s.KnowledgeSource
		sources = append(sources, &source)
	}

	if len(sources) == 0 {
		log.Println("没有匹配的知识源")
		return
	}

	results := deps.pipeline.Run(ctx, sources, knowledge.RunOptions{Force: *force})

	success, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case knowledge.IndexStatusSuccess:
			success++
			fmt.Printf("✓ %s (%d 个分块)\n", r.URL, r.ChunksCount)
		case knowledge.IndexStatusSkipped:
			skipped++
			fmt.Printf("- %s (内容未变更)\n", r.URL)
		default:
			failed++
			fmt.Printf("✗ %s: %s\n", r.URL, r.Error)
		}
	}
	fmt.Printf("完成: %d 成功, %d 跳过, %d 失败\n", success, skipped, failed)
}
