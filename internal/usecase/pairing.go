package usecase

import (
	"context"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/policy"
	"github.com/totegamma/pairdata/uid"
)

var tracer = otel.Tracer("pairing")

const maxIdentifierAttempts = 5

// CreateInput is a request to pair ChildUID with ParentUID.
type CreateInput struct {
	ChildUID  string
	ParentUID string
	Filename  string
	Fields    []string
	Requester string
}

// PairingUsecase is the registry of pairings embedded in child assets.
// Every mutation re-reads the child, validates fully, then saves paired_data once.
type PairingUsecase struct {
	repo         AssetRepository
	authorizer   Authorizer
	links        LinkResolver
	fingerprints FingerprintStore
	signal       SignalPublisher
	extensions   []string
	logger       *slog.Logger

	generate func(prefix string) string
	now      func() time.Time
}

func NewPairingUsecase(
	repo AssetRepository,
	authorizer Authorizer,
	links LinkResolver,
	fingerprints FingerprintStore,
	signal SignalPublisher,
	extensions []string,
	logger *slog.Logger,
) *PairingUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &PairingUsecase{
		repo:         repo,
		authorizer:   authorizer,
		links:        links,
		fingerprints: fingerprints,
		signal:       signal,
		extensions:   extensions,
		logger:       logger.With(slog.String("component", "pairing_usecase")),
		generate:     uid.Generate,
		now:          time.Now,
	}
}

// ResolveURL returns the external locator of pd. It is never stored.
func (uc *PairingUsecase) ResolveURL(pd domain.PairedData) string {
	return uc.links.Resolve(pd)
}

func (uc *PairingUsecase) Create(ctx context.Context, input CreateInput) (domain.PairedData, error) {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("ChildUID", input.ChildUID),
		attribute.String("ParentUID", input.ParentUID),
	)

	if input.ParentUID == input.ChildUID {
		return domain.PairedData{}, domain.RejectionError{Code: domain.CodeInvalidParent, Field: domain.AttrParent}
	}

	fields, err := uc.authorizer.Authorize(ctx, policy.Request{
		ParentUID: input.ParentUID,
		ChildUID:  input.ChildUID,
		Requester: input.Requester,
		Fields:    input.Fields,
	})
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	if err := uc.validateFilename(input.Filename); err != nil {
		return domain.PairedData{}, err
	}

	child, err := uc.load(ctx, input.ChildUID)
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	pairings := child.PairedData.Clone()
	if _, exists := pairings[input.ParentUID]; exists {
		return domain.PairedData{}, domain.RejectionError{Code: domain.CodeDuplicateParentLink, Field: domain.AttrParent}
	}
	if pairings.FilenameTaken(input.Filename, "") {
		return domain.PairedData{}, domain.RejectionError{
			Code:   domain.CodeFilenameConflict,
			Field:  domain.AttrFilename,
			Values: []string{input.Filename},
		}
	}

	identifier, err := uc.allocateIdentifier(pairings)
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	values := domain.PairedDataValues{
		Fields:     fields,
		Filename:   input.Filename,
		Identifier: identifier,
	}
	pd, err := domain.NewPairedData(input.ParentUID, input.ChildUID, values)
	if err != nil {
		return domain.PairedData{}, err
	}

	createdAt := uc.now()
	digest := domain.Fingerprint(domain.FingerprintSeed(uc.links.Resolve(pd), createdAt))

	pairings[input.ParentUID] = values
	child.PairedData = pairings
	if err := uc.save(ctx, child); err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	if err := uc.fingerprints.Set(ctx, identifier, digest); err != nil {
		uc.logger.Warn("failed to store fingerprint",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
	}

	pd = pd.WithFingerprint(digest)
	uc.publish(ctx, domain.PairingCreated, pd, createdAt)

	uc.logger.Info("paired data created",
		slog.String("asset", input.ChildUID),
		slog.String("parent", input.ParentUID),
		slog.String("identifier", identifier),
		slog.Int("fields", len(fields)),
	)

	return pd, nil
}

// Update changes filename and/or fields of the pairing found by identifier or parent UID.
// Fields are not re-validated against the parent's current sharing configuration.
func (uc *PairingUsecase) Update(ctx context.Context, childUID, key string, changes domain.PairingChanges) (domain.PairedData, error) {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("ChildUID", childUID), attribute.String("Key", key))

	child, err := uc.load(ctx, childUID)
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	parentUID, current, ok := child.PairedData.Lookup(key)
	if !ok {
		return domain.PairedData{}, domain.NotFoundError{Resource: "paired data"}
	}

	updated := changes.Apply(current)
	if updated.Filename != current.Filename {
		if err := uc.validateFilename(updated.Filename); err != nil {
			return domain.PairedData{}, err
		}
		if child.PairedData.FilenameTaken(updated.Filename, parentUID) {
			return domain.PairedData{}, domain.RejectionError{
				Code:   domain.CodeFilenameConflict,
				Field:  domain.AttrFilename,
				Values: []string{updated.Filename},
			}
		}
	}
	if updated.Fields == nil {
		updated.Fields = []string{}
	}

	pd, err := domain.NewPairedData(parentUID, childUID, updated)
	if err != nil {
		return domain.PairedData{}, err
	}

	pairings := child.PairedData.Clone()
	pairings[parentUID] = updated
	child.PairedData = pairings
	if err := uc.save(ctx, child); err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	pd = uc.withFingerprint(ctx, pd)
	uc.publish(ctx, domain.PairingUpdated, pd, uc.now())

	return pd, nil
}

// Delete removes the pairing found by identifier or parent UID. An unknown key is a no-op.
func (uc *PairingUsecase) Delete(ctx context.Context, childUID, key string) error {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("ChildUID", childUID), attribute.String("Key", key))

	child, err := uc.load(ctx, childUID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	parentUID, _, ok := child.PairedData.Lookup(key)
	if !ok {
		return nil
	}
	return uc.remove(ctx, child, parentUID)
}

// DeleteByParent removes the pairing of childUID with parentUID. An absent pairing is a no-op.
func (uc *PairingUsecase) DeleteByParent(ctx context.Context, childUID, parentUID string) error {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.DeleteByParent")
	defer span.End()

	child, err := uc.load(ctx, childUID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if _, ok := child.PairedData[parentUID]; !ok {
		return nil
	}
	return uc.remove(ctx, child, parentUID)
}

func (uc *PairingUsecase) List(ctx context.Context, childUID string) ([]domain.PairedData, error) {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.List")
	defer span.End()

	child, err := uc.load(ctx, childUID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	records, err := child.PairedData.Records(childUID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i := range records {
		records[i] = uc.withFingerprint(ctx, records[i])
	}
	return records, nil
}

// Get finds a pairing by identifier or by parent UID.
func (uc *PairingUsecase) Get(ctx context.Context, childUID, key string) (domain.PairedData, error) {
	ctx, span := tracer.Start(ctx, "Pairing.Usecase.Get")
	defer span.End()

	child, err := uc.load(ctx, childUID)
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}

	parentUID, v, ok := child.PairedData.Lookup(key)
	if !ok {
		return domain.PairedData{}, domain.NotFoundError{Resource: "paired data"}
	}

	pd, err := domain.NewPairedData(parentUID, childUID, v)
	if err != nil {
		span.RecordError(err)
		return domain.PairedData{}, err
	}
	return uc.withFingerprint(ctx, pd), nil
}

func (uc *PairingUsecase) remove(ctx context.Context, child domain.Asset, parentUID string) error {
	removed := child.PairedData[parentUID]

	pairings := child.PairedData.Clone()
	delete(pairings, parentUID)
	child.PairedData = pairings
	if err := uc.save(ctx, child); err != nil {
		return err
	}

	if err := uc.fingerprints.Delete(ctx, removed.Identifier); err != nil {
		uc.logger.Warn("failed to evict fingerprint",
			slog.String("identifier", removed.Identifier),
			slog.String("error", err.Error()),
		)
	}

	uc.publish(ctx, domain.PairingDeleted, domain.PairedData{
		Identifier: removed.Identifier,
		ParentUID:  parentUID,
		ChildUID:   child.UID,
		Filename:   removed.Filename,
	}, uc.now())

	uc.logger.Info("paired data deleted",
		slog.String("asset", child.UID),
		slog.String("parent", parentUID),
		slog.String("identifier", removed.Identifier),
	)
	return nil
}

// withFingerprint attaches the stored fingerprint. A missing one is computed once and
// stored add-if-absent so concurrent readers agree.
func (uc *PairingUsecase) withFingerprint(ctx context.Context, pd domain.PairedData) domain.PairedData {
	digest, ok, err := uc.fingerprints.Get(ctx, pd.Identifier)
	if err != nil {
		uc.logger.Warn("failed to read fingerprint",
			slog.String("identifier", pd.Identifier),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return pd.WithFingerprint(digest)
	}

	digest = domain.Fingerprint(domain.FingerprintSeed(uc.links.Resolve(pd), uc.now()))
	stored, err := uc.fingerprints.Add(ctx, pd.Identifier, digest)
	if err != nil {
		uc.logger.Warn("failed to store fingerprint",
			slog.String("identifier", pd.Identifier),
			slog.String("error", err.Error()),
		)
		return pd.WithFingerprint(digest)
	}
	return pd.WithFingerprint(stored)
}

func (uc *PairingUsecase) validateFilename(filename string) error {
	invalid := domain.RejectionError{
		Code:   domain.CodeInvalidFilename,
		Field:  domain.AttrFilename,
		Values: []string{filename},
	}

	if strings.TrimSpace(filename) == "" || strings.ContainsAny(filename, `/\`) {
		return invalid
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) == len(filename) || !slices.Contains(uc.extensions, ext) {
		return invalid
	}
	return nil
}

func (uc *PairingUsecase) allocateIdentifier(pairings domain.PairingCollection) (string, error) {
	for range maxIdentifierAttempts {
		identifier := uc.generate(domain.PairedDataPrefix)
		if !pairings.HasIdentifier(identifier) {
			return identifier, nil
		}
		uc.logger.Warn("identifier collision", slog.String("identifier", identifier))
	}
	return "", errors.New("PairingUsecase.allocateIdentifier: could not allocate a unique identifier")
}

func (uc *PairingUsecase) load(ctx context.Context, assetUID string) (domain.Asset, error) {
	asset, err := uc.repo.Load(ctx, assetUID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Asset{}, err
	}
	if err != nil {
		return domain.Asset{}, domain.PersistenceError{Op: "load asset " + assetUID, Err: err}
	}
	if asset.PairedData == nil {
		asset.PairedData = domain.PairingCollection{}
	}
	return asset, nil
}

func (uc *PairingUsecase) save(ctx context.Context, child domain.Asset) error {
	err := uc.repo.Save(ctx, child, domain.SaveOptions{
		Fields:         []string{domain.FieldPairedData},
		SkipVersioning: true,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.PersistenceError{Op: "save paired_data of " + child.UID, Err: err}
}

func (uc *PairingUsecase) publish(ctx context.Context, kind domain.PairingEventType, pd domain.PairedData, at time.Time) {
	if uc.signal == nil {
		return
	}

	event := domain.PairingEvent{
		Type:       kind,
		AssetUID:   pd.ChildUID,
		ParentUID:  pd.ParentUID,
		Identifier: pd.Identifier,
		Filename:   pd.Filename,
		At:         at.UTC(),
	}
	if pd.Fingerprint() != "" {
		event.Hash = pd.Hash()
	}

	if err := uc.signal.PublishPairing(ctx, event); err != nil {
		uc.logger.Warn("failed to publish pairing signal",
			slog.String("asset", pd.ChildUID),
			slog.String("type", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
