package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
	"github.com/cartforge/api/internal/workflow"
)

const executionCollection = "workflow_executions"

// ExecutionStore persists workflow execution records for idempotent replay
// across instances.
type ExecutionStore struct {
	base *pfirestore.BaseRepository[executionDocument]
}

var _ workflow.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore constructs a Firestore-backed execution store.
func NewExecutionStore(provider *pfirestore.Provider) (*ExecutionStore, error) {
	if provider == nil {
		return nil, errors.New("execution store requires firestore provider")
	}
	return &ExecutionStore{
		base: pfirestore.NewBaseRepository[executionDocument](provider, executionCollection),
	}, nil
}

// Find implements workflow.ExecutionStore.
func (s *ExecutionStore) Find(ctx context.Context, workflowName, key string) (*workflow.ExecutionRecord, error) {
	doc, err := s.base.Get(ctx, executionDocID(workflowName, key))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	return &workflow.ExecutionRecord{
		WorkflowName: doc.Data.WorkflowName,
		Key:          doc.Data.Key,
		Result:       doc.Data.Result,
		StartedAt:    doc.Data.StartedAt,
		FinishedAt:   doc.Data.FinishedAt,
	}, nil
}

// Save implements workflow.ExecutionStore.
func (s *ExecutionStore) Save(ctx context.Context, record workflow.ExecutionRecord) error {
	doc := executionDocument{
		WorkflowName: record.WorkflowName,
		Key:          record.Key,
		Result:       record.Result,
		StartedAt:    record.StartedAt.UTC(),
		FinishedAt:   record.FinishedAt.UTC(),
	}
	_, err := s.base.Set(ctx, executionDocID(record.WorkflowName, record.Key), doc)
	return err
}

// Delete implements workflow.ExecutionStore.
func (s *ExecutionStore) Delete(ctx context.Context, workflowName, key string) error {
	return s.base.Delete(ctx, executionDocID(workflowName, key))
}

// Execution keys embed caller-supplied identifiers; hash them so document IDs
// stay within Firestore's charset and length rules.
func executionDocID(workflowName, key string) string {
	sum := sha256.Sum256([]byte(workflowName + "/" + key))
	return hex.EncodeToString(sum[:])
}

type executionDocument struct {
	WorkflowName string    `firestore:"workflowName"`
	Key          string    `firestore:"key"`
	Result       []byte    `firestore:"result,omitempty"`
	StartedAt    time.Time `firestore:"startedAt"`
	FinishedAt   time.Time `firestore:"finishedAt"`
}
