// Package objectstore is a thin, scope-aware wrapper over storage.ObjectStore
// implementing the object store's two scopes (spec: pipeline objects persist
// across runs; run objects are evicted FIFO once a pipeline accumulates more
// runs' worth of objects than its configured depth allows). Scopes always end
// in "/" so a run id like 1 can never collide as a string prefix of 10.
package objectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

// Store wraps a storage.ObjectStore with Gofer's scope conventions.
type Store struct {
	backend storage.ObjectStore
}

func New(backend storage.ObjectStore) *Store {
	return &Store{backend: backend}
}

func pipelineScope(namespace, pipeline string) string {
	return fmt.Sprintf("%s/%s/", namespace, pipeline)
}

func runScope(namespace, pipeline string, runID int64) string {
	return fmt.Sprintf("%s/%s/%d/", namespace, pipeline, runID)
}

func extensionScope(extensionID string) string {
	return fmt.Sprintf("extension/%s/", extensionID)
}

func (s *Store) PutPipelineObject(ctx context.Context, namespace, pipeline, key string, value []byte) error {
	return s.backend.PutObject(ctx, pipelineScope(namespace, pipeline), key, value)
}

func (s *Store) GetPipelineObject(ctx context.Context, namespace, pipeline, key string) ([]byte, error) {
	return s.backend.GetObject(ctx, pipelineScope(namespace, pipeline), key)
}

func (s *Store) ListPipelineObjectKeys(ctx context.Context, namespace, pipeline string) ([]string, error) {
	return s.backend.ListObjectKeys(ctx, pipelineScope(namespace, pipeline))
}

func (s *Store) DeletePipelineObject(ctx context.Context, namespace, pipeline, key string) error {
	return s.backend.DeleteObject(ctx, pipelineScope(namespace, pipeline), key)
}

func (s *Store) PutRunObject(ctx context.Context, namespace, pipeline string, runID int64, key string, value []byte) error {
	return s.backend.PutObject(ctx, runScope(namespace, pipeline, runID), key, value)
}

func (s *Store) GetRunObject(ctx context.Context, namespace, pipeline string, runID int64, key string) ([]byte, error) {
	return s.backend.GetObject(ctx, runScope(namespace, pipeline, runID), key)
}

func (s *Store) ListRunObjectKeys(ctx context.Context, namespace, pipeline string, runID int64) ([]string, error) {
	return s.backend.ListObjectKeys(ctx, runScope(namespace, pipeline, runID))
}

func (s *Store) PutExtensionObject(ctx context.Context, extensionID, key string, value []byte) error {
	return s.backend.PutObject(ctx, extensionScope(extensionID), key, value)
}

func (s *Store) GetExtensionObject(ctx context.Context, extensionID, key string) ([]byte, error) {
	return s.backend.GetObject(ctx, extensionScope(extensionID), key)
}

// ExpireRunObjects deletes every object stored under a single run's scope;
// called by the orchestrator's per-pipeline sweep once a run falls beyond
// the configured run-object expiry depth (oldest run first).
func (s *Store) ExpireRunObjects(ctx context.Context, namespace, pipeline string, runID int64) error {
	scope := runScope(namespace, pipeline, runID)
	keys, err := s.backend.ListObjectKeys(ctx, scope)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.backend.DeleteObject(ctx, scope, key); err != nil && !gofererr.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// EvictOldestInScope enforces a per-scope FIFO cap: once a scope holds more
// than maxDepth objects, the oldest are deleted until it fits again.
func (s *Store) EvictOldestInScope(ctx context.Context, scope string, maxDepth int) error {
	if maxDepth <= 0 {
		return nil
	}
	for {
		count, err := s.backend.CountObjects(ctx, scope)
		if err != nil {
			return err
		}
		if count <= maxDepth {
			return nil
		}
		oldest, ok, err := s.backend.OldestObjectKey(ctx, scope)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		key := strings.TrimPrefix(oldest, scope)
		if err := s.backend.DeleteObject(ctx, scope, key); err != nil && !gofererr.IsNotFound(err) {
			return err
		}
	}
}
