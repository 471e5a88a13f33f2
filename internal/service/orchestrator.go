package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/imaging"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/storage"
	"github.com/timmy/fitfinder/internal/vision"
)

// SessionStore persists sessions as whole snapshots.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	Apply(ctx context.Context, upd *domain.SessionUpdate) error
	Delete(ctx context.Context, id string) ([]string, error)
}

// Detector finds garments in a stored image.
type Detector interface {
	Detect(ctx context.Context, req vision.DetectRequest) ([]vision.Region, error)
}

// SimilaritySearcher finds products that look like a query image.
type SimilaritySearcher interface {
	Search(ctx context.Context, q vision.Query) ([]vision.Match, error)
}

// Categorizer maps detection labels to categories.
type Categorizer interface {
	Categorize(label string) domain.Category
}

// ProductLookup resolves product ids for result display.
type ProductLookup interface {
	FindByCodes(ctx context.Context, refs []string) (map[string]domain.Product, error)
}

// OrchestratorConfig holds configuration for the orchestrator.
type OrchestratorConfig struct {
	SessionTTL     time.Duration
	UploadPrefix   string
	MaskPrefix     string
	MaxUploadBytes int64
	TopK           int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Upload is one user-submitted photo.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Orchestrator drives a search session from upload to ranked results.
// Each operation makes at most one outbound inference call and commits
// its writes in one transaction guarded by the session version.
type Orchestrator struct {
	store       SessionStore
	storage     storage.ObjectStorage
	detector    Detector
	searcher    SimilaritySearcher
	categorizer Categorizer
	products    ProductLookup
	cfg         OrchestratorConfig
	now         func() time.Time
}

// NewOrchestrator creates a new search orchestrator.
// Parameters:
//   - store: session persistence.
//   - objectStorage: image storage.
//   - detector: remote object detector.
//   - searcher: remote similarity search.
//   - categorizer: label to category mapping.
//   - products: optional product lookup for result names; may be nil.
//   - cfg: orchestrator settings.
//
// Returns:
//   - *Orchestrator: initialized orchestrator.
func NewOrchestrator(
	store SessionStore,
	objectStorage storage.ObjectStorage,
	detector Detector,
	searcher SimilaritySearcher,
	categorizer Categorizer,
	products ProductLookup,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.UploadPrefix == "" {
		cfg.UploadPrefix = "uploads"
	}
	if cfg.MaskPrefix == "" {
		cfg.MaskPrefix = "masks"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:       store,
		storage:     objectStorage,
		detector:    detector,
		searcher:    searcher,
		categorizer: categorizer,
		products:    products,
		cfg:         cfg,
		now:         func() time.Time { return now().UTC() },
	}
}

// Begin starts a new pass on the session with a fresh upload, stores the
// image and runs detection.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: anonymous browser session id.
//   - up: uploaded image.
//
// Returns:
//   - *SessionStateView: resulting state; set together with the error when
//     the pass ended in failed.
//   - error: *domain.Error or a persistence error.
func (o *Orchestrator) Begin(ctx context.Context, sessionID string, up Upload) (*SessionStateView, error) {
	if sessionID == "" {
		return nil, domain.NewError(domain.ReasonSessionNotFound, "missing session id")
	}
	ctx = logger.SetSessionID(ctx, sessionID)

	if len(up.Data) == 0 {
		return nil, domain.NewError(domain.ReasonDetectionInvalidInput, "empty upload")
	}
	if o.cfg.MaxUploadBytes > 0 && int64(len(up.Data)) > o.cfg.MaxUploadBytes {
		return nil, domain.NewError(domain.ReasonDetectionInvalidInput, "upload exceeds %d bytes", o.cfg.MaxUploadBytes)
	}
	info := imaging.Inspect(up.Data)
	if !imaging.IsSupported(info.ContentType) {
		return nil, domain.NewError(domain.ReasonDetectionInvalidInput, "unsupported image type %s", info.ContentType)
	}

	now := o.now()
	upd := &domain.SessionUpdate{}
	snap, err := o.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		upd.Session = snap.Session
		upd.ExpectedVersion = snap.Session.Version
	case errors.Is(err, domain.ErrSessionNotFound):
		upd.Create = true
		upd.Session = domain.SearchSession{ID: sessionID, CreatedAt: now}
	default:
		return nil, err
	}
	sess := &upd.Session
	sess.LastActivityAt = now

	w := newPassWriter(sess, now)
	w.start()
	sess.ImageID = nil

	imageID := uuid.NewString()
	key := storage.JoinKey(o.cfg.UploadPrefix, sessionID, imageID+imaging.ExtensionFor(info.ContentType))
	if err := o.storage.Put(ctx, key, up.Data, info.ContentType); err != nil {
		return o.commitFailed(ctx, upd, w, nil, domain.WrapError(domain.ReasonStorageUnavailable, err))
	}

	img := &domain.UploadedImage{
		ID:          imageID,
		SessionID:   sessionID,
		StorageKey:  key,
		ContentType: info.ContentType,
		FileSize:    int64(len(up.Data)),
		Width:       info.Width,
		Height:      info.Height,
		UploadedAt:  now,
	}
	upd.Image = img
	sess.ImageID = &img.ID

	regions, err := o.detector.Detect(ctx, vision.DetectRequest{
		ImageURI:   o.storage.URI(key),
		MaskDirURI: o.storage.URI(storage.JoinKey(o.cfg.MaskPrefix, sessionID, imageID)),
	})
	if err != nil {
		view, ferr := o.commitFailed(ctx, upd, w, &domain.SessionSnapshot{Image: img},
			asDomainError(err, domain.ReasonDetectionUnavailable))
		if view == nil {
			o.discardUpload(ctx, key)
		}
		return view, ferr
	}

	dets := make([]domain.Detection, len(regions))
	for i, r := range regions {
		dets[i] = domain.Detection{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			ImageID:    imageID,
			Ordinal:    i,
			Box:        r.Box,
			Label:      r.Label,
			Confidence: r.Confidence,
			Category:   o.categorizer.Categorize(r.Label),
			CreatedAt:  now,
		}
		if r.CropKey != "" {
			cropKey := r.CropKey
			dets[i].CropKey = &cropKey
		}
	}
	upd.Detections = dets

	w.move(domain.StageDetected)
	switch len(dets) {
	case 0:
		// Stays in detected until the caller asks for a whole-image search.
	case 1:
		w.move(domain.StageResolvedSingle)
		sess.SelectedDetectionID = &dets[0].ID
		cat := dets[0].Category
		sess.SelectedCategory = &cat
	default:
		w.move(domain.StageAwaitingSelection)
	}

	if err := o.commit(ctx, upd, w); err != nil {
		o.discardUpload(ctx, key)
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldStage: sess.Stage,
		logger.FieldPass:  sess.Pass,
	}).WithCount(len(dets)).Info(ctx, "Detection stored")

	return o.view(ctx, &domain.SessionSnapshot{Session: *sess, Image: img, Detections: dets}), nil
}

// Select resolves sel against the current detections and runs the
// similarity search. From completed or failed it starts a new pass over
// the stored image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: anonymous browser session id.
//   - sel: detection id, category, whole image, or empty.
//
// Returns:
//   - *SessionStateView: resulting state; set together with the error when
//     the pass ended in failed.
//   - error: *domain.Error or a persistence error.
func (o *Orchestrator) Select(ctx context.Context, sessionID string, sel Selection) (*SessionStateView, error) {
	ctx = logger.SetSessionID(ctx, sessionID)

	snap, err := o.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap.Image == nil {
		return nil, domain.NewError(domain.ReasonInvalidSelection, "no image uploaded in stage %s", snap.Session.Stage)
	}

	stage := snap.Session.Stage
	requery := stage.IsTerminal()
	switch {
	case requery:
		if sel.IsEmpty() {
			return nil, domain.NewError(domain.ReasonInvalidSelection, "a selection is required to search again")
		}
	case stage == domain.StageAwaitingSelection, stage == domain.StageResolvedSingle:
	case stage == domain.StageDetected:
		if !sel.WholeImage || len(snap.Detections) > 0 {
			return nil, domain.NewError(domain.ReasonInvalidSelection, "only a whole-image search is possible without detections")
		}
	default:
		return nil, domain.NewError(domain.ReasonInvalidSelection, "cannot select in stage %s", stage)
	}

	res, derr := resolveSelection(snap, sel)
	if derr != nil {
		return nil, derr
	}

	now := o.now()
	upd := &domain.SessionUpdate{Session: snap.Session, ExpectedVersion: snap.Session.Version}
	sess := &upd.Session
	sess.LastActivityAt = now

	w := newPassWriter(sess, now)
	if requery {
		w.start()
		w.move(domain.StageDetected)
	}
	if sess.Stage != domain.StageResolvedSingle {
		w.move(domain.StageResolvedSingle)
	}
	sess.ClearSelection()
	if res.det == nil {
		sess.SelectedWholeImage = true
	} else {
		sess.SelectedDetectionID = &res.det.ID
		sess.SelectedCategory = res.category
	}

	// A failed view keeps the detections but not the old pass results.
	failSnap := &domain.SessionSnapshot{Image: snap.Image, Detections: snap.Detections}

	q, derr := o.buildQuery(ctx, snap.Image, res)
	if derr != nil {
		return o.commitFailed(ctx, upd, w, failSnap, derr)
	}

	start := time.Now()
	matches, err := o.searcher.Search(ctx, q)
	if err != nil {
		return o.commitFailed(ctx, upd, w, failSnap, asDomainError(err, domain.ReasonSearchUnavailable))
	}

	var detID *string
	if res.det != nil {
		id := res.det.ID
		detID = &id
	}
	ranked := vision.RankMatches(matches)
	results := make([]domain.SearchResult, len(ranked))
	for i, m := range ranked {
		results[i] = domain.SearchResult{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			Pass:        sess.Pass,
			Rank:        i + 1,
			DetectionID: detID,
			ProductID:   m.ProductID,
			Score:       m.Score,
			ImageKey:    m.ImageKey,
			Metadata:    domain.Metadata(m.Metadata),
			CreatedAt:   now,
		}
	}
	upd.Results = results

	w.move(domain.StageSearched)
	w.move(domain.StageCompleted)

	if err := o.commit(ctx, upd, w); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldStage: sess.Stage,
		logger.FieldPass:  sess.Pass,
	}).WithDuration(time.Since(start)).WithCount(len(results)).Info(ctx, "Search results stored")

	return o.view(ctx, &domain.SessionSnapshot{
		Session:    *sess,
		Image:      snap.Image,
		Detections: snap.Detections,
		Results:    results,
	}), nil
}

// SearchWholeImage searches with the full uploaded image. It is the
// explicit fallback when detection found nothing or failed.
func (o *Orchestrator) SearchWholeImage(ctx context.Context, sessionID string) (*SessionStateView, error) {
	return o.Select(ctx, sessionID, Selection{WholeImage: true})
}

// Status returns the current state without modifying it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: anonymous browser session id.
//
// Returns:
//   - *SessionStateView: current state.
//   - error: session_not_found or session_expired.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*SessionStateView, error) {
	snap, err := o.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.view(ctx, snap), nil
}

// Reset deletes the session and its records, then removes its stored
// uploads. Storage deletion is best effort.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	ctx = logger.SetSessionID(ctx, sessionID)

	keys, err := o.store.Delete(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := o.storage.Delete(ctx, key); err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("Failed to delete upload %s", key)
		}
	}
	logger.CtxInfo(ctx, "Session reset")
	return nil
}

func (o *Orchestrator) loadLive(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	if sessionID == "" {
		return nil, domain.NewError(domain.ReasonSessionNotFound, "missing session id")
	}
	snap, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap.Session.Expired(o.now(), o.cfg.SessionTTL) {
		return nil, domain.NewError(domain.ReasonSessionExpired, "session %s expired", sessionID)
	}
	return snap, nil
}

// buildQuery reads the query image once. Detections without a stored crop
// are cut from the original in memory; if that fails the whole original
// is used.
func (o *Orchestrator) buildQuery(ctx context.Context, img *domain.UploadedImage, res resolved) (vision.Query, *domain.Error) {
	q := vision.Query{TopK: o.cfg.TopK, SourceKey: img.StorageKey}
	if res.det != nil {
		if res.det.CropKey != nil {
			q.SourceKey = *res.det.CropKey
		}
		q.Category = res.det.Category
		q.Context = &vision.SearchContext{
			TargetItem: res.det.Label,
			Confidence: res.det.Confidence,
			Box:        res.det.Box,
		}
	}
	q.SourceURI = o.storage.URI(q.SourceKey)

	data, err := o.storage.Get(ctx, q.SourceKey)
	if err != nil {
		return q, domain.WrapError(domain.ReasonStorageUnavailable, fmt.Errorf("failed to read %s: %w", q.SourceKey, err))
	}
	q.Image = data

	if res.det != nil && res.det.CropKey == nil && !res.det.Box.Empty() {
		crop, err := imaging.Crop(data, res.det.Box)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Local crop failed, searching with the whole image")
		} else {
			q.Image = crop
			q.Cropped = true
		}
	}
	return q, nil
}

func (o *Orchestrator) commit(ctx context.Context, upd *domain.SessionUpdate, w *passWriter) error {
	if w.err != nil {
		return w.err
	}
	upd.Transitions = w.rows
	if err := o.store.Apply(ctx, upd); err != nil {
		if errors.Is(err, domain.ErrSessionConflict) {
			logger.CtxWarn(ctx, "Session changed concurrently, update dropped")
		}
		return err
	}
	return nil
}

// discardUpload removes an uploaded original that no committed record points to.
func (o *Orchestrator) discardUpload(ctx context.Context, key string) {
	if err := o.storage.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Failed to remove orphaned upload %s", key)
	}
}

// commitFailed moves the pass to failed, persists it and returns the
// failed view together with derr.
func (o *Orchestrator) commitFailed(ctx context.Context, upd *domain.SessionUpdate, w *passWriter, snap *domain.SessionSnapshot, derr *domain.Error) (*SessionStateView, error) {
	w.fail(derr)
	if err := o.commit(ctx, upd, w); err != nil {
		return nil, err
	}
	sess := &upd.Session
	logger.With(logger.Fields{
		logger.FieldStage:  sess.Stage,
		logger.FieldPass:   sess.Pass,
		logger.FieldReason: sess.FailureReason,
	}).Warn(ctx, "Search pass failed: %s", sess.FailureDetail)

	if snap == nil {
		snap = &domain.SessionSnapshot{}
	}
	snap.Session = *sess
	return o.view(ctx, snap), derr
}

func (o *Orchestrator) view(ctx context.Context, snap *domain.SessionSnapshot) *SessionStateView {
	var products map[string]domain.Product
	if o.products != nil && len(snap.Results) > 0 {
		refs := make([]string, len(snap.Results))
		for i, r := range snap.Results {
			refs[i] = r.ProductID
		}
		found, err := o.products.FindByCodes(ctx, refs)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Product lookup failed")
		} else {
			products = found
		}
	}
	return buildView(snap, o.storage.GetURL, products)
}

// asDomainError keeps err's reason or assigns fallback.
func asDomainError(err error, fallback domain.Reason) *domain.Error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return derr
	}
	return domain.WrapError(fallback, err)
}
