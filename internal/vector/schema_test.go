package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type mockSchemaClient struct {
	existing map[string]*models.Class
	created  []*models.Class
	added    map[string][]*models.Property
	existErr error
}

func newMockSchemaClient() *mockSchemaClient {
	return &mockSchemaClient{
		existing: make(map[string]*models.Class),
		added:    make(map[string][]*models.Property),
	}
}

func (m *mockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	if m.existErr != nil {
		return false, m.existErr
	}
	_, ok := m.existing[className]
	return ok, nil
}

func (m *mockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.created = append(m.created, class)
	m.existing[class.Class] = class
	return nil
}

func (m *mockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.existing[className], nil
}

func (m *mockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.added[className] = append(m.added[className], property)
	return nil
}

func TestEnsureSchema_CreatesMissingClasses(t *testing.T) {
	client := newMockSchemaClient()

	err := EnsureSchema(context.Background(), client, []string{"Handbook", "Newsfeed"})
	require.NoError(t, err)

	require.Len(t, client.created, 2)
	assert.Equal(t, "Handbook", client.created[0].Class)
	assert.Equal(t, "Newsfeed", client.created[1].Class)
	assert.Equal(t, "none", client.created[0].Vectorizer)

	names := make(map[string]bool)
	for _, p := range client.created[0].Properties {
		names[p.Name] = true
	}
	for _, want := range []string{"content", "source", "itemId", "chunkIndex", "totalChunks", "isChunked"} {
		assert.True(t, names[want], "missing property %s", want)
	}
}

func TestEnsureSchema_BackfillsMissingProperties(t *testing.T) {
	client := newMockSchemaClient()
	client.existing["Handbook"] = &models.Class{
		Class: "Handbook",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"string"}},
		},
	}

	err := EnsureSchema(context.Background(), client, []string{"Handbook"})
	require.NoError(t, err)

	assert.Empty(t, client.created)
	added := client.added["Handbook"]
	require.NotEmpty(t, added)
	for _, p := range added {
		assert.NotContains(t, []string{"content", "source"}, p.Name, "existing properties must not be re-added")
	}
}

func TestEnsureSchema_PropagatesErrors(t *testing.T) {
	client := newMockSchemaClient()
	client.existErr = errors.New("weaviate down")

	err := EnsureSchema(context.Background(), client, []string{"Handbook"})
	assert.Error(t, err)
}
