package mutation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/domain/ledger"
	"github.com/erp/docsync/internal/domain/normalize"
	"github.com/erp/docsync/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const outcomeCommitted = "committed"

// RetryPolicy configures exponential backoff for transient write failures
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; 1 or less disables retries
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns three attempts starting at 200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the clock used for synthesized identifiers
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithTotalPolicy overrides ledger.DefaultTotalPolicy
func WithTotalPolicy(policy ledger.TotalPolicy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithRetry enables retries of the write step on transient failures
func WithRetry(policy RetryPolicy) Option {
	return func(p *Pipeline) {
		p.retry = policy
	}
}

// WithIDGenerator sets how ids are assigned to creates without one
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// WithMetrics records mutation outcomes
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// Pipeline runs every write through validation, normalization, the
// identifier precheck and ledger computation before touching the store.
// It never routes failures itself; see Router.
type Pipeline struct {
	store      document.Store
	prechecker *Prechecker
	validate   *validator.Validate
	logger     *zap.Logger
	clock      func() time.Time
	newID      func() string
	policy     ledger.TotalPolicy
	retry      RetryPolicy
	metrics    *telemetry.SyncMetrics
}

// NewPipeline creates a pipeline writing to store
func NewPipeline(store document.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		validate: validator.New(),
		logger:   zap.NewNop(),
		clock:    time.Now,
		newID:    uuid.NewString,
		policy:   ledger.DefaultTotalPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.prechecker = NewPrechecker(store, p.clock)
	return p
}

// SetMetrics sets the metrics collector
func (p *Pipeline) SetMetrics(metrics *telemetry.SyncMetrics) {
	p.metrics = metrics
}

// Prechecker returns the identifier checker used by the pipeline
func (p *Pipeline) Prechecker() *Prechecker {
	return p.prechecker
}

// attempt is the bookkeeping of one mutation
type attempt struct {
	run       *run
	op        document.Operation
	resource  document.Resource
	path      string
	input     document.Record
	startedAt time.Time
}

func (p *Pipeline) begin(op document.Operation, resource document.Resource, input document.Record) *attempt {
	return &attempt{
		run:       newRun(nil),
		op:        op,
		resource:  resource,
		path:      string(resource),
		input:     input,
		startedAt: time.Now(),
	}
}

func (p *Pipeline) fail(ctx context.Context, a *attempt, f *MutationError) Result {
	if f.Operation == "" {
		f.Operation = a.op
	}
	if f.Path == "" {
		f.Path = a.path
	}
	_ = a.run.step(ctx, EventFail)
	return Result{Trace: a.run.visited(), Err: f, Input: a.input}
}

func (p *Pipeline) commit(ctx context.Context, a *attempt, id string, snap *document.Snapshot) Result {
	_ = a.run.step(ctx, EventCommit)
	return Result{ID: id, Document: snap, Trace: a.run.visited(), Input: a.input}
}

// advance fires event and turns a rejected transition into a failure
func (p *Pipeline) advance(ctx context.Context, a *attempt, event string) *MutationError {
	if err := a.run.step(ctx, event); err != nil {
		return &MutationError{Kind: KindOther, Cause: err}
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, a *attempt, res Result) {
	outcome := outcomeCommitted
	if res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	p.metrics.RecordMutation(ctx, string(a.resource), string(a.op), outcome, time.Since(a.startedAt))

	fields := []zap.Field{
		zap.String("operation", string(a.op)),
		zap.String("path", a.path),
		zap.String("outcome", outcome),
		zap.Strings("trace", res.Trace),
	}
	if res.Err == nil {
		p.logger.Debug("mutation committed", append(fields, zap.String("id", res.ID))...)
		return
	}
	switch res.Err.Kind {
	case KindTransient, KindOther:
		p.logger.Warn("mutation failed", append(fields, zap.Error(res.Err))...)
	default:
		p.logger.Debug("mutation rejected", append(fields, zap.Error(res.Err))...)
	}
}

// scope resolves the identity and the resource spec of a request
func (p *Pipeline) scope(ctx context.Context, a *attempt, id identity.Identity) (context.Context, document.ResourceSpec, document.CollectionPath, *MutationError) {
	if id.IsZero() {
		var ok bool
		if id, ok = identity.FromContext(ctx); !ok {
			return ctx, document.ResourceSpec{}, document.CollectionPath{}, &MutationError{Kind: KindNoIdentity}
		}
	}
	spec, ok := document.Lookup(string(a.resource))
	if !ok {
		return ctx, document.ResourceSpec{}, document.CollectionPath{}, &MutationError{
			Kind:   KindValidation,
			Fields: map[string]string{"resource": "is not a known resource"},
		}
	}
	path := document.NewCollectionPath(id.OwnerID, spec.Name)
	a.path = path.String()
	return identity.WithContext(ctx, id), spec, path, nil
}

// Create validates and writes a new document
func (p *Pipeline) Create(ctx context.Context, req CreateRequest) (res Result) {
	ctx, span := telemetry.StartServiceSpan(ctx, "mutation", "create",
		telemetry.WithAttribute(telemetry.SpanAttrResource, string(req.Resource)))
	defer span.End()

	a := p.begin(document.OperationCreate, req.Resource, req.Data)
	defer func() {
		p.finish(ctx, a, res)
		annotate(span, res)
	}()

	ctx, spec, path, ferr := p.scope(ctx, a, req.Identity)
	if ferr != nil {
		return p.fail(ctx, a, ferr)
	}

	if ferr := p.advance(ctx, a, EventValidate); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	data := withDefaults(prepare(normalize.StripUndefined(req.Data)), spec.Defaults)
	if fields := validateRecord(p.validate, spec, data, false); len(fields) > 0 {
		return p.fail(ctx, a, &MutationError{Kind: KindValidation, Fields: fields, Payload: data})
	}

	if ferr := p.advance(ctx, a, EventNormalize); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	data, err := normalize.Normalize(data, normalize.SchemaFor(spec))
	if err != nil {
		return p.fail(ctx, a, normalizationFailure(err, req.Data))
	}

	if spec.IdentifierField != "" {
		if value, ok := identifierOf(data, spec.IdentifierField); ok {
			if ferr := p.check(ctx, a, path, spec.IdentifierField, value, "", data); ferr != nil {
				return p.fail(ctx, a, ferr)
			}
		} else {
			data[spec.IdentifierField] = p.prechecker.SynthesizeIdentifier(spec.IdentifierPrefix)
		}
	}

	if ferr := p.advance(ctx, a, EventCompute); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	if spec.Ledger {
		p.applyLedger(data, nil)
	}
	data["createdAt"] = document.ServerTimestamp
	data["updatedAt"] = document.ServerTimestamp

	if ferr := p.advance(ctx, a, EventWrite); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = p.newID()
	}
	snap, err := p.write(ctx, func(ctx context.Context, n int) (*document.Snapshot, error) {
		snap, err := p.store.Create(ctx, path, id, data)
		if n > 1 && document.CodeOf(err) == document.CodeAlreadyExists {
			// an earlier attempt landed before its response was lost
			return p.store.Get(ctx, path.Doc(id))
		}
		return snap, err
	})
	if err != nil {
		if document.CodeOf(err) == document.CodeAlreadyExists {
			return p.fail(ctx, a, &MutationError{Kind: KindUniqueness, Field: "id", Payload: data, Cause: err})
		}
		return p.fail(ctx, a, document.Classify(err, document.OperationCreate, path.Doc(id).String(), data))
	}
	return p.commit(ctx, a, snap.ID, snap)
}

// Update writes the defined keys of the request onto an existing document
func (p *Pipeline) Update(ctx context.Context, req UpdateRequest) (res Result) {
	ctx, span := telemetry.StartServiceSpan(ctx, "mutation", "update",
		telemetry.WithAttribute(telemetry.SpanAttrResource, string(req.Resource)))
	defer span.End()

	a := p.begin(document.OperationUpdate, req.Resource, req.Data)
	defer func() {
		p.finish(ctx, a, res)
		annotate(span, res)
	}()

	ctx, spec, path, ferr := p.scope(ctx, a, req.Identity)
	if ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	docPath := path.Doc(strings.TrimSpace(req.ID))
	a.path = docPath.String()

	if ferr := p.advance(ctx, a, EventValidate); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	data := prepare(normalize.StripUndefined(req.Data))
	fields := validateRecord(p.validate, spec, data, true)
	if docPath.ID == "" {
		fields["id"] = "is required"
	}
	if len(fields) > 0 {
		return p.fail(ctx, a, &MutationError{Kind: KindValidation, Fields: fields, Payload: data})
	}

	if ferr := p.advance(ctx, a, EventNormalize); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	data, err := normalize.Normalize(data, normalize.SchemaFor(spec))
	if err != nil {
		return p.fail(ctx, a, normalizationFailure(err, req.Data))
	}

	if spec.IdentifierField != "" {
		if value, ok := identifierOf(data, spec.IdentifierField); ok {
			if ferr := p.check(ctx, a, path, spec.IdentifierField, value, docPath.ID, data); ferr != nil {
				return p.fail(ctx, a, ferr)
			}
		}
	}

	if ferr := p.advance(ctx, a, EventCompute); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	if spec.Ledger && touchesLedger(data) {
		var current document.Record
		if !hasAllLedgerInputs(data) {
			snap, err := p.store.Get(ctx, docPath)
			if err != nil {
				return p.fail(ctx, a, document.Classify(err, document.OperationUpdate, docPath.String(), data))
			}
			current = snap.Data
		}
		p.applyLedger(data, current)
	}
	data["updatedAt"] = document.ServerTimestamp

	if ferr := p.advance(ctx, a, EventWrite); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	snap, err := p.write(ctx, func(ctx context.Context, _ int) (*document.Snapshot, error) {
		return p.store.Update(ctx, docPath, data)
	})
	if err != nil {
		return p.fail(ctx, a, document.Classify(err, document.OperationUpdate, docPath.String(), data))
	}
	return p.commit(ctx, a, snap.ID, snap)
}

// Delete removes a document. It skips validation and goes straight to the
// write step.
func (p *Pipeline) Delete(ctx context.Context, req DeleteRequest) (res Result) {
	ctx, span := telemetry.StartServiceSpan(ctx, "mutation", "delete",
		telemetry.WithAttribute(telemetry.SpanAttrResource, string(req.Resource)))
	defer span.End()

	a := p.begin(document.OperationDelete, req.Resource, nil)
	defer func() {
		p.finish(ctx, a, res)
		annotate(span, res)
	}()

	ctx, _, path, ferr := p.scope(ctx, a, req.Identity)
	if ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	docPath := path.Doc(strings.TrimSpace(req.ID))
	a.path = docPath.String()
	if docPath.ID == "" {
		return p.fail(ctx, a, &MutationError{Kind: KindValidation, Fields: map[string]string{"id": "is required"}})
	}

	if ferr := p.advance(ctx, a, EventWrite); ferr != nil {
		return p.fail(ctx, a, ferr)
	}
	_, err := p.write(ctx, func(ctx context.Context, n int) (*document.Snapshot, error) {
		err := p.store.Delete(ctx, docPath)
		if n > 1 && document.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return p.fail(ctx, a, document.Classify(err, document.OperationDelete, docPath.String(), nil))
	}
	return p.commit(ctx, a, docPath.ID, nil)
}

// check runs the identifier precheck in the checking state
func (p *Pipeline) check(ctx context.Context, a *attempt, path document.CollectionPath, field string, value any, exceptID string, payload document.Record) *MutationError {
	if ferr := p.advance(ctx, a, EventCheck); ferr != nil {
		return ferr
	}
	unique, err := p.prechecker.CheckUniqueExcept(ctx, path, field, value, exceptID)
	if err != nil {
		return document.Classify(err, a.op, path.String(), payload)
	}
	if !unique {
		return &MutationError{Kind: KindUniqueness, Field: field, Payload: payload}
	}
	return nil
}

// write runs fn, retrying transient failures when a retry policy is set.
// fn receives the 1-based attempt number.
func (p *Pipeline) write(ctx context.Context, fn func(ctx context.Context, attempt int) (*document.Snapshot, error)) (*document.Snapshot, error) {
	if p.retry.MaxAttempts <= 1 {
		return fn(ctx, 1)
	}
	var (
		snap *document.Snapshot
		n    int
	)
	err := backoff.RetryNotify(func() error {
		n++
		s, err := fn(ctx, n)
		if err != nil {
			if document.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		snap = s
		return nil
	}, p.retry.backOff(ctx), func(err error, wait time.Duration) {
		p.logger.Warn("transient write failure, retrying",
			zap.Int("attempt", n),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	return snap, err
}

// applyLedger replaces the ledger fields of data. Inputs missing from data
// are taken from current.
func (p *Pipeline) applyLedger(data, current document.Record) {
	input := func(key string) any {
		if v, ok := data[key]; ok {
			return v
		}
		return current[key]
	}
	l := ledger.ComputeWithPolicy(
		ledger.ItemInputsFrom(input("items")),
		input("discount"),
		ledger.ParseDiscountType(input("discountType")),
		p.policy,
	)
	for k, v := range l.Fields() {
		data[k] = v
	}
}

func touchesLedger(data document.Record) bool {
	for _, k := range document.LedgerInputs {
		if _, ok := data[k]; ok {
			return true
		}
	}
	return false
}

func hasAllLedgerInputs(data document.Record) bool {
	for _, k := range document.LedgerInputs {
		if _, ok := data[k]; !ok {
			return false
		}
	}
	return true
}

// identifierOf returns the caller supplied identifier, ignoring blanks
func identifierOf(data document.Record, field string) (any, bool) {
	v, ok := data[field]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		data[field] = s
		return s, true
	}
	return v, true
}

func normalizationFailure(err error, input document.Record) *MutationError {
	f := &MutationError{Kind: KindNormalization, Payload: normalize.StripUndefined(input), Cause: err}
	var nerr *normalize.NormalizationError
	if errors.As(err, &nerr) {
		f.Field = nerr.Field
	}
	return f
}

func annotate(span trace.Span, res Result) {
	outcome := outcomeCommitted
	if res.Err != nil {
		outcome = string(res.Err.Kind)
	}
	state := ""
	if len(res.Trace) > 0 {
		state = res.Trace[len(res.Trace)-1]
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPath, pathOf(res),
		telemetry.SpanAttrOutcome, outcome,
		telemetry.SpanAttrState, state,
	)
	if res.Err == nil {
		return
	}
	switch res.Err.Kind {
	case KindPermission, KindTransient, KindOther:
		telemetry.RecordError(span, res.Err)
	}
}

func pathOf(res Result) string {
	switch {
	case res.Err != nil:
		return res.Err.Path
	case res.Document != nil:
		return res.Document.Path
	}
	return ""
}
