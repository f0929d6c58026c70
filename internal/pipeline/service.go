// Package pipeline orchestrates the resolve/compose/build flow that turns
// extracted terms into an executable query. Term extraction and query
// execution are external collaborators; the pipeline only declares their
// interfaces.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cohortql/internal/catalog"
	"cohortql/internal/core/apperror"
	appctx "cohortql/internal/core/context"
	"cohortql/internal/domain/compose"
	"cohortql/internal/domain/filter"
	"cohortql/internal/domain/query"
	"cohortql/internal/domain/resolve"
	"cohortql/pkg/logger"
)

var tracer = otel.Tracer("cohortql/pipeline")

// ParsedTerm is one term produced by an external extractor, optionally
// pre-bound to a field path.
type ParsedTerm struct {
	Term      string `json:"term"`
	FieldPath string `json:"fieldPath,omitempty"`
	Value     string `json:"value,omitempty"`
	Operator  string `json:"operator,omitempty"`
}

// TermExtractor produces ParsedTerms from free text. Implementations (LLM
// or rule-based) live outside this module.
type TermExtractor interface {
	Extract(ctx context.Context, text string) ([]ParsedTerm, error)
}

// Executor runs a query against the external endpoint. Implementations live
// outside this module.
type Executor interface {
	Execute(ctx context.Context, queryText string, variables map[string]any) (json.RawMessage, error)
}

// Searcher is the candidate lookup used by the pipeline; *catalog.Index and
// the search cache both satisfy it.
type Searcher interface {
	Search(ctx context.Context, term string, maxCandidates int) ([]catalog.Candidate, error)
}

// FieldLookup resolves a field path directly, bypassing term search.
// *catalog.Index satisfies it.
type FieldLookup interface {
	FieldByPath(ctx context.Context, path string) (catalog.Field, bool, error)
}

// Result is the full pipeline output for one batch of terms.
type Result struct {
	Query      query.Query             `json:"query"`
	FilterTree filter.Node             `json:"-"`
	Resolved   []resolve.ResolvedField `json:"resolved"`
	Conflicts  []resolve.Conflict      `json:"conflicts,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
}

// Service wires the stages together.
type Service struct {
	searcher Searcher
	fields   FieldLookup
	resolver *resolve.Resolver
	composer *compose.Composer
	builder  *query.Builder
	log      *logger.Logger
}

// NewService creates the pipeline service.
func NewService(searcher Searcher, fields FieldLookup, resolver *resolve.Resolver, composer *compose.Composer, builder *query.Builder, log *logger.Logger) *Service {
	return &Service{
		searcher: searcher,
		fields:   fields,
		resolver: resolver,
		composer: composer,
		builder:  builder,
		log:      log.WithComponent("pipeline"),
	}
}

// Translate runs search, resolve, compose and build for a list of terms and
// returns the query plus all audit output. Terms that match nothing become
// warnings; stage failures abort the request only.
func (s *Service) Translate(ctx context.Context, terms []ParsedTerm, combinator filter.Combinator) (Result, error) {
	if appctx.GetTrace(ctx) == nil {
		ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	}

	ctx, span := tracer.Start(ctx, "pipeline.translate",
		trace.WithAttributes(
			attribute.Int("terms", len(terms)),
		))
	defer span.End()

	log := s.log.WithContext(ctx)

	staged, err := s.searchStage(ctx, terms)
	if err != nil {
		return Result{}, err
	}

	resolved, err := s.resolveStage(ctx, staged.candidates, staged.unmatched)
	if err != nil {
		return Result{}, err
	}
	resolved.Resolved = append(resolved.Resolved, staged.prebound...)

	tree, err := s.composeStage(ctx, resolved.Resolved, combinator)
	if err != nil {
		return Result{}, err
	}

	q, err := s.buildStage(ctx, tree)
	if err != nil {
		return Result{}, err
	}

	warnings := append([]string{}, staged.warnings...)
	warnings = append(warnings, resolved.Warnings...)
	warnings = append(warnings, s.composer.Warnings(tree)...)
	warnings = append(warnings, s.builder.ValidateQuery(q)...)

	log.Infow("translated terms",
		"terms", len(terms),
		"resolved", len(resolved.Resolved),
		"conflicts", len(resolved.Conflicts),
		"warnings", len(warnings),
	)

	return Result{
		Query:      q,
		FilterTree: tree,
		Resolved:   resolved.Resolved,
		Conflicts:  resolved.Conflicts,
		Warnings:   warnings,
	}, nil
}

// searchResult is the intermediate output of the search stage: candidates
// for terms that need disambiguation, pre-bound resolutions that bypass it,
// unmatched terms and advisory warnings.
type searchResult struct {
	candidates []catalog.Candidate
	prebound   []resolve.ResolvedField
	unmatched  []string
	warnings   []string
}

// searchStage looks up candidates per term. Terms the extractor already
// bound to a field path skip search and resolve directly; pre-bound terms
// whose path is not in the catalog fall back to search with a warning.
// Terms with no candidates are collected as unmatched.
func (s *Service) searchStage(ctx context.Context, terms []ParsedTerm) (searchResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.search")
	defer span.End()

	var out searchResult

	for _, term := range terms {
		if term.FieldPath != "" {
			bound, ok, err := s.resolvePrebound(ctx, term)
			if err != nil {
				return searchResult{}, err
			}
			if ok {
				out.prebound = append(out.prebound, bound)
				continue
			}
			out.warnings = append(out.warnings,
				fmt.Sprintf("field path %q for term %q is not in the catalog", term.FieldPath, term.Term))
			// fall through to plain term search
		}
		if term.Term == "" {
			continue
		}

		found, err := s.searcher.Search(ctx, term.Term, 0)
		if err != nil {
			return searchResult{}, apperror.NewCatalog("candidate search failed").WithDetail("term", term.Term).WithCause(err)
		}
		if len(found) == 0 {
			out.unmatched = append(out.unmatched, term.Term)
			continue
		}
		out.candidates = append(out.candidates, found...)
	}

	span.SetAttributes(
		attribute.Int("candidates", len(out.candidates)),
		attribute.Int("prebound", len(out.prebound)),
		attribute.Int("unmatched", len(out.unmatched)),
	)
	return out, nil
}

// resolvePrebound turns an extractor-bound term into a resolved field without
// searching. The bound path is authoritative, so confidence is 1.0; the
// extractor's value and operator win over the defaults when present.
func (s *Service) resolvePrebound(ctx context.Context, term ParsedTerm) (resolve.ResolvedField, bool, error) {
	field, ok, err := s.fields.FieldByPath(ctx, term.FieldPath)
	if err != nil {
		return resolve.ResolvedField{}, false, apperror.NewCatalog("field lookup failed").WithDetail("path", term.FieldPath).WithCause(err)
	}
	if !ok {
		return resolve.ResolvedField{}, false, nil
	}

	value := term.Value
	if value == "" {
		value = term.Term
	}
	operator := term.Operator
	if operator == "" {
		operator = resolve.DefaultOperator(field.Type)
	}

	return resolve.ResolvedField{
		Term:       term.Term,
		FieldPath:  field.Path,
		FieldType:  field.Type,
		Value:      value,
		Operator:   operator,
		Confidence: 1.0,
	}, true, nil
}

func (s *Service) resolveStage(ctx context.Context, candidates []catalog.Candidate, unmatched []string) (resolve.Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.resolve")
	defer span.End()

	result, err := s.resolver.Resolve(ctx, candidates, unmatched)
	if err != nil {
		return resolve.Result{}, apperror.NewConflictResolution("term resolution failed").WithCause(err)
	}

	span.SetAttributes(attribute.Int("conflicts", len(result.Conflicts)))
	return result, nil
}

func (s *Service) composeStage(ctx context.Context, resolved []resolve.ResolvedField, combinator filter.Combinator) (filter.Node, error) {
	ctx, span := tracer.Start(ctx, "pipeline.compose")
	defer span.End()

	tree, err := s.composer.Compose(ctx, resolved, combinator)
	if err != nil {
		return nil, apperror.NewFilterBuilding("filter composition failed").WithCause(err)
	}

	span.SetAttributes(attribute.Int("conditions", filter.CountConditions(tree)))
	return tree, nil
}

func (s *Service) buildStage(ctx context.Context, tree filter.Node) (query.Query, error) {
	ctx, span := tracer.Start(ctx, "pipeline.build")
	defer span.End()

	q, err := s.builder.Build(ctx, tree)
	if err != nil {
		return query.Query{}, err
	}
	return q, nil
}
