package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema creates every target collection class that does not exist
// yet and backfills missing properties on those that do. Vectors come from
// the pipeline, so the vectorizer is always "none".
func EnsureSchema(ctx context.Context, client SchemaClient, collections []string) error {
	for _, class := range collections {
		if err := ensureClass(ctx, client, class); err != nil {
			return err
		}
	}
	return nil
}

func ensureClass(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "source",
			DataType: []string{"string"}, // source name (exact match)
		},
		{
			Name:     "itemId",
			DataType: []string{"string"},
		},
		{
			Name:     "title",
			DataType: []string{"text"},
		},
		{
			Name:     "snippet",
			DataType: []string{"text"},
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
		{
			Name:     "totalChunks",
			DataType: []string{"int"},
		},
		{
			Name:     "isChunked",
			DataType: []string{"boolean"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A staged content chunk with its embedding",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
