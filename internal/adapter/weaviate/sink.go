// Package weaviate writes embedded chunks into Weaviate. Objects are
// batched with caller-supplied IDs, so re-writing the same ID replaces the
// object instead of duplicating it.
package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"corpusflow/internal/embedsched"
)

// Sink targets one Weaviate class.
type Sink struct {
	client *weaviate.Client
	class  string
}

func NewSink(client *weaviate.Client, class string) *Sink {
	return &Sink{client: client, class: class}
}

func (s *Sink) Write(ctx context.Context, doc embedsched.VectorDocument) error {
	properties := map[string]interface{}{
		"content":     doc.Content,
		"source":      doc.Source,
		"itemId":      doc.Metadata["itemId"],
		"title":       doc.Metadata["title"],
		"snippet":     doc.Metadata["snippet"],
		"chunkIndex":  doc.ChunkIndex,
		"totalChunks": doc.TotalChunks,
		"isChunked":   doc.IsChunked,
	}

	obj := &models.Object{
		Class:      s.class,
		ID:         strfmt.UUID(doc.ID),
		Properties: properties,
		Vector:     doc.Vector,
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate write %s: %s", doc.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// CountChunks returns the number of stored objects for one source, used by
// the monitoring surface.
func (s *Sink) CountChunks(ctx context.Context, source string) (int, error) {
	where := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(source)

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithWhere(where).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[s.class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}
