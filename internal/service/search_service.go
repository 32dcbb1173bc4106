// Package service 提供了搜索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"estudai-go/internal/config"
	"estudai-go/internal/model"
	"estudai-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// SearchService 接口定义了消息全文搜索操作。
type SearchService interface {
	SearchMessages(ctx context.Context, query string, topK int, user *model.User) ([]model.MessageSearchResult, error)
}

type searchService struct {
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{
		esClient: esClient,
		esCfg:    esCfg,
	}
}

// SearchMessages 在用户自己的消息上执行全文搜索。
// 索引由后台索引器异步维护，新消息可能存在短暂的可见性延迟。
func (s *searchService) SearchMessages(ctx context.Context, query string, topK int, user *model.User) ([]model.MessageSearchResult, error) {
	log.Infof("[SearchService] 开始消息搜索, query: '%s', topK: %d, user: %s", query, topK, user.Username)

	esQuery := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"content": query,
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{
						"user_id": user.ID,
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[SearchService] Elasticsearch 返回错误: %s", res.String())
		return nil, fmt.Errorf("search returned error status: %s", res.Status())
	}

	// 解析命中结果
	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64         `json:"_score"`
				Source model.EsMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]model.MessageSearchResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, model.MessageSearchResult{
			MessageID: hit.Source.MessageID,
			ChatID:    hit.Source.ChatID,
			Role:      hit.Source.Role,
			Content:   hit.Source.Content,
			CreatedAt: hit.Source.CreatedAt,
			Score:     hit.Score,
		})
	}

	log.Infof("[SearchService] 搜索完成, query: '%s', 返回 %d 条结果", query, len(results))
	return results, nil
}
