package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docpipe/internal/blobstore"
	"docpipe/internal/cachebuilder"
	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/repository/memory"
	"docpipe/internal/service"
	"docpipe/internal/storage/local"
	"docpipe/mocks"
)

type fixture struct {
	store    *memory.Store
	blobs    *blobstore.Store
	cache    *cachebuilder.Builder
	pipeline *mocks.MockPipeline
	schemaID int64
	project  domain.Project
	root     domain.Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := local.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	blobs, err := blobstore.New(backend)
	require.NoError(t, err)

	store := memory.NewStore()
	schemaID := store.AddSchema(domain.Schema{
		Name:      "invoice",
		Extractor: domain.ExtractorLocal,
		Spec: domain.SchemaSpec{Fields: []domain.Field{
			{Name: "number", Type: domain.FieldText, Keywords: []string{"invoice no"}},
			{Name: "vendor", Type: domain.FieldText},
		}},
	})
	project, root := store.AddProject(domain.Project{Name: "acme"})

	return &fixture{
		store:    store,
		blobs:    blobs,
		cache:    cachebuilder.New(blobs, lock.NewMemoryLocker(), cachebuilder.Config{}, logger.Nop()),
		pipeline: new(mocks.MockPipeline),
		schemaID: schemaID,
		project:  project,
		root:     root,
	}
}

func (fx *fixture) intake(cfg config.UploadConfig) service.IntakeService {
	return service.NewIntakeService(
		fx.store.Files(), fx.store.Questions(), fx.store.Schemas(), fx.store.Projects(),
		fx.blobs, fx.pipeline, cfg, logger.Nop(),
	)
}

// seed stores data as the original of a new file in the given state.
func (fx *fixture) seed(t *testing.T, name string, data []byte, state domain.ParseState) *domain.File {
	t.Helper()
	ctx := context.Background()
	f := &domain.File{
		Name:            name,
		ContentHash:     blobstore.HashBytes(data),
		Size:            int64(len(data)),
		AttachedSchemas: domain.Int64List{fx.schemaID},
		TaskKind:        domain.TaskExtract,
		Meta:            domain.Meta{},
		ParseState:      state,
	}
	require.NoError(t, fx.blobs.Put(ctx, f.ContentHash, domain.NSOriginal, data))
	require.NoError(t, fx.store.Files().Create(ctx, f))
	_, err := fx.store.Questions().CreateFor(ctx, f.ID, fx.schemaID)
	require.NoError(t, err)
	return f
}

func (fx *fixture) question(t *testing.T, fileID int64) *domain.Question {
	t.Helper()
	q, err := fx.store.Questions().GetFor(context.Background(), fileID, fx.schemaID)
	require.NoError(t, err)
	return q
}
