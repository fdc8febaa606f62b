package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/ai"
	"github.com/deepquery/deepquery/internal/dataset"
	"github.com/deepquery/deepquery/internal/model"
	"github.com/deepquery/deepquery/internal/query"
)

// Ingestor is the slice of pack ingestion the query flow needs.
type Ingestor interface {
	EnsureIndexed(ctx context.Context, identity, packID, packType, token string, force bool) (string, error)
	SaveUpload(ctx context.Context, identity, sessionID, filename string, content []byte) error
	IngestUploads(ctx context.Context, identity, sessionID string) (*model.IngestResult, error)
	ListUploads(ctx context.Context, identity, sessionID string) ([]string, error)
	DeleteSession(ctx context.Context, identity, sessionID string) error
	DeleteIdentity(ctx context.Context, identity string) error
}

// UsageRecorder meters consumed tokens best-effort.
type UsageRecorder interface {
	Record(ctx context.Context, token string, fields ...string) int
}

const answerSystemPrompt = "You are a helpful assistant. Answer the question using only the " +
	"provided context documents. If the context does not contain the answer, say so."

// QueryRequest is one retrieval-augmented question against a pack or an
// upload session.
type QueryRequest struct {
	Identity string
	Token    string
	PackID   string
	PackType string
	Prompt   string
	History  string
	Rebuild  bool
}

type QueryResponse struct {
	Answer     string        `json:"answer,omitempty"`
	Results    query.Results `json:"results"`
	TokensUsed int           `json:"tokens_used"`
}

// DeepQueryService glues ingestion, retrieval, and completion into the
// request flow: ensure the dataset exists, search it under the read lock,
// optionally ask the completion model, then meter usage best-effort.
type DeepQueryService struct {
	ingestor  Ingestor
	store     dataset.Store
	locks     *dataset.KeyedLock
	engine    *query.Engine
	generator ai.IGenerator
	meter     UsageRecorder
}

func NewDeepQueryService(ingestor Ingestor, store dataset.Store, locks *dataset.KeyedLock,
	engine *query.Engine, generator ai.IGenerator, meter UsageRecorder) *DeepQueryService {

	return &DeepQueryService{
		ingestor:  ingestor,
		store:     store,
		locks:     locks,
		engine:    engine,
		generator: generator,
		meter:     meter,
	}
}

// Retrieve answers with raw passages only, no completion call.
func (s *DeepQueryService) Retrieve(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	results, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	tokens := 0
	if s.meter != nil {
		tokens = s.meter.Record(ctx, req.Token, req.Prompt, req.History, results.ContextBlock())
	}
	return &QueryResponse{Results: results, TokensUsed: tokens}, nil
}

// Query retrieves passages and asks the completion model for an answer
// grounded in them.
func (s *DeepQueryService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	results, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	answer := ""
	if !results.Empty() {
		user := fmt.Sprintf("Context documents:\n%s\n\nQuestion: %s", results.ContextBlock(), req.Prompt)
		if req.History != "" {
			user = fmt.Sprintf("Conversation so far:\n%s\n\n%s", req.History, user)
		}
		answer, err = s.generator.Generate(ctx, answerSystemPrompt, user)
		if err != nil {
			return nil, err
		}
	}
	tokens := 0
	if s.meter != nil {
		tokens = s.meter.Record(ctx, req.Token, req.Prompt, req.History, results.ContextBlock(), answer)
	}
	return &QueryResponse{Answer: answer, Results: results, TokensUsed: tokens}, nil
}

func (s *DeepQueryService) retrieve(ctx context.Context, req QueryRequest) (query.Results, error) {
	datasetPath, err := s.resolveDataset(ctx, req)
	if err != nil {
		return query.Results{}, err
	}
	release := s.locks.RLock(datasetPath)
	defer release()

	handle, err := s.store.Open(ctx, datasetPath)
	if err != nil {
		return query.Results{}, err
	}
	defer handle.Close()

	results, err := s.engine.Query(ctx, handle, req.Prompt)
	if err != nil {
		return query.Results{}, err
	}
	if results.Empty() {
		logutil.GetLogger(ctx).Info("query matched nothing",
			zap.String("dataset", datasetPath), zap.String("identity", req.Identity))
	}
	return results, nil
}

// resolveDataset maps the request onto its dataset, ingesting the pack first
// when needed. Upload sessions are indexed up front by the upload flow, so
// they resolve without a fetch.
func (s *DeepQueryService) resolveDataset(ctx context.Context, req QueryRequest) (string, error) {
	if req.PackType == model.PackTypeUploads {
		return dataset.Resolve(req.Identity, model.PackTypeUploads, req.PackID), nil
	}
	return s.ingestor.EnsureIndexed(ctx, req.Identity, req.PackID, req.PackType, req.Token, req.Rebuild)
}

// Upload stages one file into the session and reindexes the session dataset.
func (s *DeepQueryService) Upload(ctx context.Context, identity, sessionID, filename string, content []byte) (*model.IngestResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	if err := s.ingestor.SaveUpload(ctx, identity, sessionID, filename, content); err != nil {
		return nil, err
	}
	return s.ingestor.IngestUploads(ctx, identity, sessionID)
}

func (s *DeepQueryService) ListFiles(ctx context.Context, identity, sessionID string) ([]string, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return s.ingestor.ListUploads(ctx, identity, sessionID)
}

func (s *DeepQueryService) DeleteSession(ctx context.Context, identity, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "default"
	}
	return s.ingestor.DeleteSession(ctx, identity, sessionID)
}

// DeleteIdentityData removes everything the identity owns: staged uploads
// and every indexed dataset across all pack scopes.
func (s *DeepQueryService) DeleteIdentityData(ctx context.Context, identity string) error {
	return s.ingestor.DeleteIdentity(ctx, identity)
}
