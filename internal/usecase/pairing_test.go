package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/policy"
)

// --- mocks ---

type mockAssetRepo struct {
	assets   map[string]domain.Asset
	managers map[string]bool
	saves    []domain.SaveOptions
	saveErr  error
}

func newMockAssetRepo() *mockAssetRepo {
	return &mockAssetRepo{
		assets:   map[string]domain.Asset{},
		managers: map[string]bool{},
	}
}

func (m *mockAssetRepo) put(a domain.Asset) {
	if a.PairedData == nil {
		a.PairedData = domain.PairingCollection{}
	}
	m.assets[a.UID] = a
}

func (m *mockAssetRepo) Load(ctx context.Context, uid string) (domain.Asset, error) {
	a, ok := m.assets[uid]
	if !ok {
		return domain.Asset{}, domain.NotFoundError{Resource: "asset"}
	}
	a.PairedData = a.PairedData.Clone()
	return a, nil
}

func (m *mockAssetRepo) Save(ctx context.Context, asset domain.Asset, opts domain.SaveOptions) error {
	m.saves = append(m.saves, opts)
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.assets[asset.UID]
	if !ok {
		return domain.NotFoundError{Resource: "asset"}
	}
	for _, f := range opts.Fields {
		switch f {
		case domain.FieldPairedData:
			stored.PairedData = asset.PairedData.Clone()
		case domain.FieldDataSharing:
			stored.DataSharing = asset.DataSharing
		}
	}
	if !opts.SkipVersioning {
		stored.Version++
	}
	m.assets[asset.UID] = stored
	return nil
}

func (m *mockAssetRepo) LoadSharing(ctx context.Context, uid string) (domain.DataSharing, error) {
	a, ok := m.assets[uid]
	if !ok {
		return domain.DataSharing{}, domain.NotFoundError{Resource: "parent asset"}
	}
	return a.DataSharing, nil
}

func (m *mockAssetRepo) LoadSchemaFields(ctx context.Context, uid string) ([]string, error) {
	a, ok := m.assets[uid]
	if !ok {
		return nil, domain.NotFoundError{Resource: "parent asset"}
	}
	return domain.SurveyFieldNames(a.Content)
}

func (m *mockAssetRepo) HasManageCapability(ctx context.Context, requester, uid string) (bool, error) {
	return m.managers[requester+"/"+uid], nil
}

func (m *mockAssetRepo) Create(ctx context.Context, asset domain.Asset) error {
	if _, ok := m.assets[asset.UID]; ok {
		return domain.RejectionError{Code: domain.CodeUIDConflict, Field: domain.AttrUID, Values: []string{asset.UID}}
	}
	asset.Version = 1
	m.put(asset)
	return nil
}

func (m *mockAssetRepo) GrantPermission(ctx context.Context, assetUID, user, codename string) error {
	if codename == domain.ManageCapability {
		m.managers[user+"/"+assetUID] = true
	}
	return nil
}

type mockLinks struct{}

func (mockLinks) Resolve(pd domain.PairedData) string {
	return fmt.Sprintf("https://kf.example.org/api/v2/assets/%s/paired-data/%s/external.xml", pd.ChildUID, pd.Identifier)
}

type mockFingerprints struct {
	values map[string]string
}

func newMockFingerprints() *mockFingerprints {
	return &mockFingerprints{values: map[string]string{}}
}

func (m *mockFingerprints) Get(ctx context.Context, id string) (string, bool, error) {
	v, ok := m.values[id]
	return v, ok, nil
}

func (m *mockFingerprints) Add(ctx context.Context, id, digest string) (string, error) {
	if v, ok := m.values[id]; ok {
		return v, nil
	}
	m.values[id] = digest
	return digest, nil
}

func (m *mockFingerprints) Set(ctx context.Context, id, digest string) error {
	m.values[id] = digest
	return nil
}

func (m *mockFingerprints) Delete(ctx context.Context, id string) error {
	delete(m.values, id)
	return nil
}

type mockSignal struct {
	events []domain.PairingEvent
}

func (m *mockSignal) PublishPairing(ctx context.Context, event domain.PairingEvent) error {
	m.events = append(m.events, event)
	return nil
}

// --- fixtures ---

var surveyContent = json.RawMessage(`{"survey":[
	{"name":"favourite_restaurant","type":"text"},
	{"name":"city_name","type":"text"}
]}`)

type fixture struct {
	repo         *mockAssetRepo
	fingerprints *mockFingerprints
	signal       *mockSignal
	uc           *PairingUsecase
	clock        time.Time
}

func newFixture(t *testing.T, sharing domain.DataSharing) *fixture {
	t.Helper()

	repo := newMockAssetRepo()
	repo.put(domain.Asset{UID: "aParent", Owner: "someuser", Content: surveyContent, DataSharing: sharing})
	repo.put(domain.Asset{UID: "aParent2", Owner: "someuser", Content: surveyContent, DataSharing: domain.DataSharing{Enabled: true}})
	repo.put(domain.Asset{UID: "aChild", Owner: "anotheruser", Content: surveyContent})

	f := &fixture{
		repo:         repo,
		fingerprints: newMockFingerprints(),
		signal:       &mockSignal{},
		clock:        time.Unix(1700000000, 0),
	}
	f.uc = NewPairingUsecase(repo, policy.NewEvaluator(repo), mockLinks{}, f.fingerprints, f.signal, []string{".xml"}, nil)
	f.uc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) create(parent, filename string, fields []string, requester string) (domain.PairedData, error) {
	return f.uc.Create(context.Background(), CreateInput{
		ChildUID:  "aChild",
		ParentUID: parent,
		Filename:  filename,
		Fields:    fields,
		Requester: requester,
	})
}

// --- tests ---

func TestCreateParentNotShared(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: false})

	_, err := f.create("aParent", "x.xml", nil, "userA")
	if !errors.Is(err, domain.ErrParentNotShared) {
		t.Fatalf("expected ParentNotShared, got %v", err)
	}
	if len(f.repo.saves) != 0 {
		t.Fatalf("rejected create must not save")
	}
}

func TestCreateInvalidFields(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true, Fields: []string{"city_name"}})

	_, err := f.create("aParent", "x.xml", []string{"restaurant"}, "userA")
	var rej domain.RejectionError
	if !errors.As(err, &rej) || rej.Code != domain.CodeInvalidFields {
		t.Fatalf("expected InvalidFields, got %v", err)
	}
	if !slices.Equal(rej.Values, []string{"restaurant"}) {
		t.Fatalf("expected [restaurant] got %v", rej.Values)
	}
	if len(f.repo.assets["aChild"].PairedData) != 0 {
		t.Fatalf("collection must be unchanged after a rejection")
	}
}

func TestCreateTrivialCase(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	pd, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !slices.Equal(pd.Fields, []string{"favourite_restaurant", "city_name"}) {
		t.Fatalf("expected all parent fields, got %v", pd.Fields)
	}
	if pd.ParentUID != "aParent" || pd.ChildUID != "aChild" || pd.Filename != "x.xml" {
		t.Fatalf("unexpected record %+v", pd)
	}
	if len(pd.Identifier) < 10 || pd.Identifier[:2] != "pd" {
		t.Fatalf("unexpected identifier %s", pd.Identifier)
	}

	stored := f.repo.assets["aChild"].PairedData["aParent"]
	if stored.Identifier != pd.Identifier || stored.Filename != "x.xml" {
		t.Fatalf("record not persisted: %+v", stored)
	}

	if len(f.repo.saves) != 1 {
		t.Fatalf("expected exactly one save, got %d", len(f.repo.saves))
	}
	opts := f.repo.saves[0]
	if !slices.Equal(opts.Fields, []string{domain.FieldPairedData}) || !opts.SkipVersioning {
		t.Fatalf("unexpected save options %+v", opts)
	}
	if f.repo.assets["aChild"].Version != 0 {
		t.Fatalf("pairing must not bump the asset version")
	}

	want := domain.Fingerprint(domain.FingerprintSeed(mockLinks{}.Resolve(pd), time.Unix(1700000001, 0)))
	if pd.Hash() != "md5:"+want {
		t.Fatalf("expected hash md5:%s got %s", want, pd.Hash())
	}

	if len(f.signal.events) != 1 || f.signal.events[0].Type != domain.PairingCreated {
		t.Fatalf("expected one created signal, got %+v", f.signal.events)
	}
}

func TestCreateEmptyFieldsInheritRestriction(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true, Fields: []string{"city_name"}})

	pd, err := f.create("aParent", "x.xml", []string{}, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !slices.Equal(pd.Fields, []string{"city_name"}) {
		t.Fatalf("expected [city_name] got %v", pd.Fields)
	}
}

func TestCreateUserNotAllowed(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true, Users: []string{"randomuser"}})

	_, err := f.create("aParent", "x.xml", nil, "anotheruser")
	if !errors.Is(err, domain.ErrUserNotAllowed) {
		t.Fatalf("owner of the child alone should not be allowed, got %v", err)
	}

	f.repo.managers["manager/aChild"] = true
	if _, err := f.create("aParent", "x.xml", nil, "manager"); err != nil {
		t.Fatalf("manager of the child should be allowed: %v", err)
	}
}

func TestCreateInvalidFilename(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	for _, name := range []string{"", "   ", "paired_data.jpg", "paired_data", ".xml", "dir/x.xml"} {
		_, err := f.create("aParent", name, nil, "userA")
		var rej domain.RejectionError
		if !errors.As(err, &rej) || rej.Code != domain.CodeInvalidFilename || rej.Field != domain.AttrFilename {
			t.Fatalf("expected InvalidFilename for %q, got %v", name, err)
		}
	}

	if _, err := f.create("aParent", "PAIRED.XML", nil, "userA"); err != nil {
		t.Fatalf("extension match should be case-insensitive: %v", err)
	}
}

func TestCreateFilenameConflict(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	if _, err := f.create("aParent", "x.xml", nil, "userA"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := f.create("aParent2", "x.xml", nil, "userA")
	var rej domain.RejectionError
	if !errors.As(err, &rej) || rej.Code != domain.CodeFilenameConflict {
		t.Fatalf("expected FilenameConflict, got %v", err)
	}
	if !slices.Equal(rej.Values, []string{"x.xml"}) {
		t.Fatalf("expected the colliding filename, got %v", rej.Values)
	}
	if len(f.repo.assets["aChild"].PairedData) != 1 {
		t.Fatalf("second pairing must not be persisted")
	}
}

func TestCreateDuplicateParent(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	if _, err := f.create("aParent", "x.xml", nil, "userA"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	_, err := f.create("aParent", "y.xml", nil, "userA")
	if !errors.Is(err, domain.ErrDuplicateParentLink) {
		t.Fatalf("expected DuplicateParentLink, got %v", err)
	}
}

func TestCreateSelfPairing(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	_, err := f.uc.Create(context.Background(), CreateInput{
		ChildUID:  "aParent",
		ParentUID: "aParent",
		Filename:  "x.xml",
		Requester: "someuser",
	})
	if !errors.Is(err, domain.ErrInvalidParent) {
		t.Fatalf("expected InvalidParent, got %v", err)
	}
}

func TestCreateUnknownParent(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	_, err := f.create("nope", "x.xml", nil, "userA")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRegeneratesCollidingIdentifier(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	ids := []string{"pdSAME", "pdSAME", "pdOTHER"}
	f.uc.generate = func(prefix string) string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := f.create("aParent", "a.xml", nil, "userA")
	if err != nil || first.Identifier != "pdSAME" {
		t.Fatalf("unexpected first create %v %v", first, err)
	}
	second, err := f.create("aParent2", "b.xml", nil, "userA")
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.Identifier != "pdOTHER" {
		t.Fatalf("expected regenerated identifier, got %s", second.Identifier)
	}
}

func TestCreatePersistenceFailure(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})
	f.repo.saveErr = errors.New("connection reset")

	_, err := f.create("aParent", "x.xml", nil, "userA")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if errors.Is(err, domain.ErrRejected) {
		t.Fatalf("persistence failure must not look like a rejection")
	}
	if len(f.fingerprints.values) != 0 {
		t.Fatalf("no fingerprint should be stored when the save fails")
	}
	if len(f.signal.events) != 0 {
		t.Fatalf("no signal should be published when the save fails")
	}
}

func TestFingerprintStableAcrossReadsAndUpdate(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	created, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := f.uc.Get(context.Background(), "aChild", created.Identifier)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, err := f.uc.Get(context.Background(), "aChild", "aParent")
	if err != nil {
		t.Fatalf("get by parent failed: %v", err)
	}
	if first.Hash() != created.Hash() || second.Hash() != created.Hash() {
		t.Fatalf("fingerprint changed between reads: %s %s %s", created.Hash(), first.Hash(), second.Hash())
	}

	name := "renamed.xml"
	updated, err := f.uc.Update(context.Background(), "aChild", created.Identifier, domain.PairingChanges{Filename: &name})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Hash() != created.Hash() {
		t.Fatalf("update must not recompute the fingerprint")
	}
}

func TestFingerprintRecomputedOnceWhenEvicted(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	created, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	delete(f.fingerprints.values, created.Identifier)

	first, err := f.uc.Get(context.Background(), "aChild", created.Identifier)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, err := f.uc.Get(context.Background(), "aChild", created.Identifier)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if first.Hash() != second.Hash() {
		t.Fatalf("fingerprint should settle after the first read")
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true, Fields: []string{"city_name"}})

	created, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// fields are trusted once paired and not re-validated against the parent
	fields := []string{"favourite_restaurant"}
	updated, err := f.uc.Update(context.Background(), "aChild", created.Identifier, domain.PairingChanges{Fields: &fields})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !slices.Equal(updated.Fields, fields) || updated.Filename != "x.xml" || updated.Identifier != created.Identifier {
		t.Fatalf("unexpected updated record %+v", updated)
	}

	stored := f.repo.assets["aChild"].PairedData["aParent"]
	if !slices.Equal(stored.Fields, fields) {
		t.Fatalf("update not persisted: %+v", stored)
	}

	last := f.repo.saves[len(f.repo.saves)-1]
	if !slices.Equal(last.Fields, []string{domain.FieldPairedData}) || !last.SkipVersioning {
		t.Fatalf("unexpected save options %+v", last)
	}
}

func TestUpdateFilenameValidation(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	a, err := f.create("aParent", "a.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.create("aParent2", "b.xml", nil, "userA"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	saves := len(f.repo.saves)

	taken := "b.xml"
	_, err = f.uc.Update(context.Background(), "aChild", a.Identifier, domain.PairingChanges{Filename: &taken})
	if !errors.Is(err, domain.ErrFilenameConflict) {
		t.Fatalf("expected FilenameConflict, got %v", err)
	}

	bad := "a.csv"
	_, err = f.uc.Update(context.Background(), "aChild", a.Identifier, domain.PairingChanges{Filename: &bad})
	if !errors.Is(err, domain.ErrInvalidFilename) {
		t.Fatalf("expected InvalidFilename, got %v", err)
	}

	if len(f.repo.saves) != saves {
		t.Fatalf("failed updates must not save")
	}

	same := "a.xml"
	if _, err := f.uc.Update(context.Background(), "aChild", a.Identifier, domain.PairingChanges{Filename: &same}); err != nil {
		t.Fatalf("keeping the same filename should not conflict: %v", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	name := "x.xml"
	_, err := f.uc.Update(context.Background(), "aChild", "pdMISSING", domain.PairingChanges{Filename: &name})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	created, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := f.uc.Delete(context.Background(), "aChild", created.Identifier); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if err := f.uc.Delete(context.Background(), "aChild", created.Identifier); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}

	if len(f.repo.assets["aChild"].PairedData) != 0 {
		t.Fatalf("pairing should be gone")
	}
	if _, ok := f.fingerprints.values[created.Identifier]; ok {
		t.Fatalf("fingerprint should be evicted")
	}
	if len(f.repo.saves) != 2 {
		t.Fatalf("expected create + one delete save, got %d", len(f.repo.saves))
	}

	_, err = f.uc.Get(context.Background(), "aChild", created.Identifier)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	// the filename is free again
	if _, err := f.create("aParent2", "x.xml", nil, "userA"); err != nil {
		t.Fatalf("filename should be reusable after delete: %v", err)
	}
}

func TestDeleteByParentKey(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	created, err := f.create("aParent", "x.xml", nil, "userA")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Delete accepts the same keys as Get
	if err := f.uc.Delete(context.Background(), "aChild", "aParent"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(f.repo.assets["aChild"].PairedData) != 0 {
		t.Fatalf("pairing should be removed when deleted by parent uid")
	}
	if _, ok := f.fingerprints.values[created.Identifier]; ok {
		t.Fatalf("fingerprint should be evicted")
	}
	if err := f.uc.Delete(context.Background(), "aChild", "aParent"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestDeleteByParent(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	if _, err := f.create("aParent", "x.xml", nil, "userA"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.uc.DeleteByParent(context.Background(), "aChild", "aParent"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := f.uc.DeleteByParent(context.Background(), "aChild", "aParent"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if len(f.signal.events) != 2 || f.signal.events[1].Type != domain.PairingDeleted {
		t.Fatalf("expected a deleted signal, got %+v", f.signal.events)
	}
}

func TestDeleteUnknownChild(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	if err := f.uc.Delete(context.Background(), "nope", "pd1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown asset, got %v", err)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})

	if _, err := f.create("aParent2", "b.xml", nil, "userA"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.create("aParent", "a.xml", nil, "userA"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	records, err := f.uc.List(context.Background(), "aChild")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 || records[0].ParentUID != "aParent" || records[1].ParentUID != "aParent2" {
		t.Fatalf("unexpected records %+v", records)
	}
	for _, r := range records {
		if r.Fingerprint() == "" {
			t.Fatalf("listed record without fingerprint: %+v", r)
		}
	}
}

func TestListMissingIdentifier(t *testing.T) {
	f := newFixture(t, domain.DataSharing{Enabled: true})
	child := f.repo.assets["aChild"]
	child.PairedData["aParent"] = domain.PairedDataValues{Filename: "x.xml"}
	f.repo.assets["aChild"] = child

	_, err := f.uc.List(context.Background(), "aChild")
	if !errors.Is(err, domain.ErrMissingIdentifier) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}
